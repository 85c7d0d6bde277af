package config

import (
	"log/slog"

	"github.com/secmon-lab/harrier/pkg/service/changelog"
	"github.com/urfave/cli/v3"
)

// Changelog holds the findings changelog file configuration
type Changelog struct {
	Path string
}

// Flags returns CLI flags for Changelog configuration
func (c *Changelog) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "changelog",
			Usage:       "Path to the findings changelog Markdown file to append to",
			Category:    "Pipeline",
			Sources:     cli.EnvVars("HARRIER_CHANGELOG"),
			Destination: &c.Path,
		},
	}
}

// Configure returns a changelog writer, or nil when no path is given
func (c *Changelog) Configure() *changelog.Writer {
	if !c.IsConfigured() {
		return nil
	}
	return changelog.New(c.Path)
}

// IsConfigured checks if a changelog path is given
func (c *Changelog) IsConfigured() bool {
	return c.Path != ""
}

// LogValue returns structured log value
func (c Changelog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", c.Path),
	)
}
