package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdWatch() *cli.Command {
	var (
		firestoreCfg config.Firestore
		sqliteCfg    config.SQLite
		policyCfg    config.Policy
		changelogCfg config.Changelog
		slackCfg     config.Slack
		geminiCfg    config.Gemini

		dir      string
		pkgName  string
		debounce time.Duration
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "Directory to watch for report files",
				Category:    "Watch",
				Value:       ".",
				Sources:     cli.EnvVars("HARRIER_WATCH_DIR"),
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "package",
				Usage:       "Name of the scanned package",
				Category:    "Pipeline",
				Sources:     cli.EnvVars("HARRIER_PACKAGE"),
				Destination: &pkgName,
			},
			&cli.DurationFlag{
				Name:        "debounce",
				Usage:       "Quiet period before ingesting changed reports",
				Category:    "Watch",
				Value:       2 * time.Second,
				Destination: &debounce,
			},
		},
		firestoreCfg.Flags(),
		sqliteCfg.Flags(),
		policyCfg.Flags(),
		changelogCfg.Flags(),
		slackCfg.Flags(),
		geminiCfg.Flags(),
	)

	return &cli.Command{
		Name:  "watch",
		Usage: "Watch a directory and ingest new or changed report files",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			if pkgName == "" {
				return goerr.New("--package is required")
			}

			repo, err := newRepository(ctx, &firestoreCfg, &sqliteCfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			policy, err := policyCfg.Configure(ctx)
			if err != nil {
				return err
			}

			opts := ingestOptions(ctx, policy, &changelogCfg, &slackCfg, &geminiCfg)
			ingestUC := usecase.NewIngest(repo, opts...)
			defer ingestUC.Wait()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return goerr.Wrap(err, "failed to create file watcher")
			}
			defer watcher.Close()

			if err := watcher.Add(dir); err != nil {
				return goerr.Wrap(err, "failed to watch directory", goerr.V("dir", dir))
			}

			logger.Info("Watching for report files",
				slog.String("dir", dir),
				slog.Any("debounce", debounce),
			)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			// Changed files accumulate until the debounce timer fires, so
			// reports written together land in one scan
			pending := map[string]struct{}{}
			var timer *time.Timer
			var timerC <-chan time.Time

			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
						continue
					}

					pending[event.Name] = struct{}{}
					if timer == nil {
						timer = time.NewTimer(debounce)
						timerC = timer.C
					} else {
						timer.Reset(debounce)
					}

				case <-timerC:
					timer = nil
					timerC = nil
					batch := pending
					pending = map[string]struct{}{}
					ingestBatch(ctx, ingestUC, pkgName, batch)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Error("Watcher error", slog.Any("error", err))

				case sig := <-sigChan:
					logger.Info("Signal received, stopping watcher", slog.Any("signal", sig))
					return nil

				case <-ctx.Done():
					logger.Info("Context cancelled, stopping watcher")
					return nil
				}
			}
		},
	}
}

// ingestBatch ingests one debounced batch of report files as a single scan.
// Errors are logged, not returned: a bad batch must not stop the watcher.
func ingestBatch(ctx context.Context, ingestUC interfaces.Ingest, pkgName string, paths map[string]struct{}) {
	logger := ctxlog.From(ctx)

	req := &interfaces.IngestRequest{
		Package:   pkgName,
		Timestamp: time.Now(),
	}
	for path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("Failed to read report file",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}
		req.Reports = append(req.Reports, interfaces.ReportInput{Path: path, Data: data})
	}
	if len(req.Reports) == 0 {
		return
	}

	result, err := ingestUC.Ingest(ctx, req)
	if err != nil {
		logger.Error("Failed to ingest reports", slog.Any("error", err))
		return
	}

	logger.Info("Reports ingested",
		slog.String("scan", result.Scan.ID.String()),
		slog.Int("reports", len(req.Reports)),
		slog.Int("events", len(result.Events)),
		slog.Int("errors", len(result.Scan.Errors)),
	)
}
