package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	controller "github.com/secmon-lab/harrier/pkg/controller/http"
	"github.com/secmon-lab/harrier/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg    config.Server
		firestoreCfg config.Firestore
		sqliteCfg    config.SQLite
		policyCfg    config.Policy
		changelogCfg config.Changelog
		slackCfg     config.Slack
		geminiCfg    config.Gemini
		authCfg      config.Auth
	)

	flags := joinFlags(
		serverCfg.Flags(),
		firestoreCfg.Flags(),
		sqliteCfg.Flags(),
		policyCfg.Flags(),
		changelogCfg.Flags(),
		slackCfg.Flags(),
		geminiCfg.Flags(),
		authCfg.Flags(),
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			logger.Info("Starting harrier server",
				slog.Any("server", serverCfg),
				slog.Any("firestore", firestoreCfg),
				slog.Any("sqlite", sqliteCfg),
				slog.Any("policy", policyCfg),
				slog.Any("changelog", changelogCfg),
				slog.Any("slack", slackCfg),
				slog.Any("gemini", geminiCfg),
				slog.Any("auth", authCfg),
			)

			repo, err := newRepository(ctx, &firestoreCfg, &sqliteCfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			policy, err := policyCfg.Configure(ctx)
			if err != nil {
				return err
			}

			ingestOpts := ingestOptions(ctx, policy, &changelogCfg, &slackCfg, &geminiCfg)

			// Resolutions through the API land in the same changelog file
			var findingsOpts []usecase.FindingsOption
			if w := changelogCfg.Configure(); w != nil {
				findingsOpts = append(findingsOpts, usecase.WithResolutionChangelog(w))
			}

			ingestUC := usecase.NewIngest(repo, ingestOpts...)
			defer ingestUC.Wait()
			findingsUC := usecase.NewFindings(repo, findingsOpts...)
			authUC := usecase.NewAuth([]byte(authCfg.TokenSecret))

			server, err := controller.NewServer(ctx, serverCfg.Addr, ingestUC, findingsUC, authUC, repo)
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			// Start server in goroutine
			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
