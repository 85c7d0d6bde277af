package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/repository"
	"github.com/urfave/cli/v3"
)

// SQLite holds SQLite configuration
type SQLite struct {
	Path string
}

// Flags returns CLI flags for SQLite configuration
func (s *SQLite) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "Path to the SQLite database file",
			Category:    "Storage",
			Sources:     cli.EnvVars("HARRIER_SQLITE_PATH"),
			Destination: &s.Path,
		},
	}
}

// Configure creates and returns a SQLite repository
func (s *SQLite) Configure(ctx context.Context) (interfaces.Repository, error) {
	if !s.IsConfigured() {
		return nil, goerr.New("sqlite is not configured")
	}

	repo, err := repository.NewSQLite(ctx, s.Path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to init sqlite",
			goerr.V("path", s.Path),
		)
	}

	return repo, nil
}

// IsConfigured checks if SQLite is properly configured
func (s *SQLite) IsConfigured() bool {
	return s.Path != ""
}

// LogValue returns structured log value
func (s SQLite) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", s.Path),
	)
}
