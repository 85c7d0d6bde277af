package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/service/report"
	"github.com/urfave/cli/v3"
)

func cmdReport() *cli.Command {
	var (
		firestoreCfg config.Firestore
		sqliteCfg    config.SQLite

		format  string
		outPath string
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "Report format (markdown, json, pdf)",
				Category:    "Report",
				Value:       "markdown",
				Sources:     cli.EnvVars("HARRIER_REPORT_FORMAT"),
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "out",
				Usage:       "Output file path. Empty writes to stdout",
				Category:    "Report",
				Destination: &outPath,
			},
		},
		firestoreCfg.Flags(),
		sqliteCfg.Flags(),
	)

	return &cli.Command{
		Name:  "report",
		Usage: "Render a summary of the findings registry",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == report.FormatPDF && outPath == "" {
				return goerr.New("--out is required for the pdf format")
			}

			repo, err := newRepository(ctx, &firestoreCfg, &sqliteCfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := report.New(repo)
			data, err := svc.Collect(ctx, time.Now())
			if err != nil {
				return goerr.Wrap(err, "failed to collect report data")
			}

			out, err := report.Render(data, f)
			if err != nil {
				return goerr.Wrap(err, "failed to render report")
			}

			if outPath == "" {
				if _, err := os.Stdout.Write(out); err != nil {
					return goerr.Wrap(err, "failed to write report")
				}
				return nil
			}

			if err := os.WriteFile(outPath, out, 0644); err != nil {
				return goerr.Wrap(err, "failed to write report file", goerr.V("path", outPath))
			}

			ctxlog.From(ctx).Info("Report written",
				slog.String("path", outPath),
				slog.String("format", string(f)),
				slog.Int("bytes", len(out)),
			)
			return nil
		},
	}
}
