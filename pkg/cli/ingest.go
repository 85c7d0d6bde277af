package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/scanner"
	"github.com/secmon-lab/harrier/pkg/usecase"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func cmdIngest() *cli.Command {
	var (
		firestoreCfg config.Firestore
		sqliteCfg    config.SQLite
		policyCfg    config.Policy
		changelogCfg config.Changelog
		slackCfg     config.Slack
		geminiCfg    config.Gemini

		pkgName     string
		scannerSpec string
		execMode    bool
		target      string
		outDir      string
		timeout     time.Duration
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "package",
				Usage:       "Name of the scanned package",
				Category:    "Pipeline",
				Sources:     cli.EnvVars("HARRIER_PACKAGE"),
				Destination: &pkgName,
			},
			&cli.StringFlag{
				Name:        "scanner",
				Usage:       "Scanner names, comma separated. Pins the report parser, or selects the tools to run with --exec",
				Category:    "Pipeline",
				Sources:     cli.EnvVars("HARRIER_SCANNER"),
				Destination: &scannerSpec,
			},
			&cli.BoolFlag{
				Name:        "exec",
				Usage:       "Run the scanners against the target directory instead of reading report files",
				Category:    "Pipeline",
				Destination: &execMode,
			},
			&cli.StringFlag{
				Name:        "target",
				Usage:       "Directory to scan with --exec",
				Category:    "Pipeline",
				Value:       ".",
				Destination: &target,
			},
			&cli.StringFlag{
				Name:        "out",
				Usage:       "Directory where raw scanner output is persisted with --exec",
				Category:    "Pipeline",
				Sources:     cli.EnvVars("HARRIER_OUT"),
				Destination: &outDir,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Timeout for running scanners with --exec",
				Category:    "Pipeline",
				Value:       5 * time.Minute,
				Destination: &timeout,
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
		Name:  "ingest",
		Usage: "Ingest scanner reports into the findings registry",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			if pkgName == "" {
				return goerr.New("--package is required")
			}

			scanners, err := parseScanners(scannerSpec)
			if err != nil {
				return err
			}

			files := c.Args().Slice()
			if execMode && len(files) > 0 {
				return goerr.New("cannot mix report files with --exec")
			}
			if !execMode && len(files) == 0 {
				return goerr.New("no report files given, pass files or use --exec")
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

			req := &interfaces.IngestRequest{
				Package:   pkgName,
				Timestamp: time.Now(),
			}

			if execMode {
				if len(scanners) == 0 {
					for _, p := range scanner.All() {
						scanners = append(scanners, p.Name())
					}
				}
				logger.Info("Running scanners",
					slog.Any("scanners", scanners),
					slog.String("target", target),
					slog.Any("timeout", timeout),
				)
				reports, scanErrs, err := runScanners(ctx, scanners, target, outDir, timeout)
				if err != nil {
					return err
				}
				req.Reports = reports
				req.Errors = scanErrs
				req.Duration = time.Since(req.Timestamp)
			} else {
				if len(scanners) > 1 {
					return goerr.New("only one scanner can pin the parser for report files",
						goerr.V("scanners", scanners))
				}
				var pinned types.ScannerName
				if len(scanners) == 1 {
					pinned = scanners[0]
				}
				for _, path := range files {
					data, err := os.ReadFile(path)
					if err != nil {
						return goerr.Wrap(err, "failed to read report file", goerr.V("path", path))
					}
					req.Reports = append(req.Reports, interfaces.ReportInput{
						Path:    path,
						Data:    data,
						Scanner: pinned,
					})
				}
			}

			opts := ingestOptions(ctx, policy, &changelogCfg, &slackCfg, &geminiCfg)
			ingestUC := usecase.NewIngest(repo, opts...)
			defer ingestUC.Wait()

			result, err := ingestUC.Ingest(ctx, req)
			if err != nil {
				return goerr.Wrap(err, "failed to ingest scan")
			}

			logger.Info("Scan ingested",
				slog.String("scan", result.Scan.ID.String()),
				slog.Int("findings", result.Scan.Stats.Total),
				slog.Int("discovered", result.Scan.Stats.Discovered),
				slog.Int("reopened", result.Scan.Stats.Reopened),
				slog.Int("resolved", result.Scan.Stats.Resolved),
				slog.Int("suppressed", result.Scan.Stats.Suppressed),
				slog.Int("events", len(result.Events)),
			)

			return evaluateOutcome(ctx, repo, policy, result.Scan)
		},
	}
}

// evaluateOutcome decides the ingest exit status. A gate violation wins over
// scanner failures: extra reports only ever add findings, so a failure
// verdict holds even when some scanner did not run. A pass with scanner
// failures is inconclusive and reported as such.
func evaluateOutcome(ctx context.Context, repo interfaces.Repository, policy *model.Policy, scan *model.Scan) error {
	findingsUC := usecase.NewFindings(repo)
	maxSeverity, err := findingsUC.MaxOpenSeverity(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate open findings")
	}

	if policy.ShouldFail(maxSeverity) {
		return goerr.New("open findings at or above the failure threshold",
			goerr.T(model.TagPolicyViolation),
			goerr.V("max_severity", maxSeverity),
			goerr.V("fail_on", policy.FailOn),
		)
	}

	if len(scan.Errors) > 0 {
		return goerr.New("scan completed with scanner failures",
			goerr.T(model.TagScanFailure),
			goerr.V("failures", len(scan.Errors)),
		)
	}

	return nil
}

// parseScanners parses a comma separated scanner list
func parseScanners(spec string) ([]types.ScannerName, error) {
	if spec == "" {
		return nil, nil
	}

	var out []types.ScannerName
	for _, s := range strings.Split(spec, ",") {
		name := types.ScannerName(strings.TrimSpace(s))
		if !name.IsValid() {
			return nil, goerr.New("unknown scanner", goerr.V("scanner", name))
		}
		out = append(out, name)
	}
	return out, nil
}

// runScanners executes the scanners concurrently against the target
// directory. A tool failure becomes a ScanError instead of aborting the
// batch, so the scan records it and that scanner's open findings stay open.
func runScanners(ctx context.Context, scanners []types.ScannerName, target, outDir string, timeout time.Duration) ([]interfaces.ReportInput, []model.ScanError, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		reports  []interfaces.ReportInput
		scanErrs []model.ScanError
	)

	var g errgroup.Group
	for _, sc := range scanners {
		g.Go(func() error {
			result, err := scanner.Run(runCtx, sc, target, outDir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				scanErrs = append(scanErrs, model.ScanError{
					Scanner: sc,
					Message: err.Error(),
				})
				return nil
			}
			reports = append(reports, interfaces.ReportInput{
				Path:    result.RawPath,
				Data:    result.Output,
				Scanner: sc,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return reports, scanErrs, nil
}
