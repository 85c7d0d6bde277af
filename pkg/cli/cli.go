package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/urfave/cli/v3"
)

// Run runs the CLI application
func Run(ctx context.Context, args []string) error {
	// Load .env before flag parsing so env flag sources see the values
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return goerr.Wrap(err, "failed to load .env file")
	}

	var loggerCfg config.Logger

	app := &cli.Command{
		Name:    "harrier",
		Usage:   "Security findings changelog for package scan reports",
		Version: "0.1.0",
		Flags:   loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Configure logger
			logger, err := loggerCfg.Configure()
			if err != nil {
				return nil, err
			}

			slog.SetDefault(logger)
			ctx = ctxlog.With(ctx, logger)
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdIngest(),
			cmdReport(),
			cmdWatch(),
			cmdToken(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		return goerr.Wrap(err, "CLI execution failed")
	}

	return nil
}

// ExitCode maps an error returned by Run to the process exit code: 2 for
// policy gate violations, 3 for scanner failures, 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case goerr.HasTag(err, model.TagPolicyViolation):
		return 2
	case goerr.HasTag(err, model.TagScanFailure):
		return 3
	default:
		return 1
	}
}
