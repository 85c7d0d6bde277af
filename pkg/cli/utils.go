package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/repository"
	"github.com/secmon-lab/harrier/pkg/service/notify"
	"github.com/secmon-lab/harrier/pkg/service/triage"
	"github.com/secmon-lab/harrier/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// joinFlags combines multiple flag slices into one
func joinFlags(flags ...[]cli.Flag) []cli.Flag {
	var result []cli.Flag
	for _, f := range flags {
		result = append(result, f...)
	}
	return result
}

// newRepository picks the first configured storage backend: Firestore, then
// SQLite, then in-memory
func newRepository(ctx context.Context, firestoreCfg *config.Firestore, sqliteCfg *config.SQLite) (interfaces.Repository, error) {
	logger := ctxlog.From(ctx)

	switch {
	case firestoreCfg.IsConfigured():
		logger.Info("Using Firestore repository", slog.Any("firestore", firestoreCfg))
		return firestoreCfg.Configure(ctx)
	case sqliteCfg.IsConfigured():
		logger.Info("Using SQLite repository", slog.Any("sqlite", sqliteCfg))
		return sqliteCfg.Configure(ctx)
	default:
		logger.Warn("Using memory database instead of a persistent store. The data will be removed when shutting down")
		return repository.NewMemory(), nil
	}
}

// ingestOptions assembles the pipeline options shared by the ingest and
// watch commands from the optional changelog, Slack and Gemini configs
func ingestOptions(ctx context.Context, policy *model.Policy, changelogCfg *config.Changelog, slackCfg *config.Slack, geminiCfg *config.Gemini) []usecase.IngestOption {
	logger := ctxlog.From(ctx)
	opts := []usecase.IngestOption{usecase.WithPolicy(policy)}

	if w := changelogCfg.Configure(); w != nil {
		opts = append(opts, usecase.WithChangelog(w))
	}

	if slackClient := slackCfg.ConfigureOptional(logger); slackClient != nil {
		notifier := notify.New(slackClient, slackCfg.Channel,
			notify.WithMinSeverity(policy.Notify.MinSeverity))
		opts = append(opts, usecase.WithNotifier(notifier))
	}

	if llmClient := geminiCfg.ConfigureOptional(ctx, logger); llmClient != nil {
		opts = append(opts, usecase.WithTriager(triage.New(llmClient)))
	}

	return opts
}
