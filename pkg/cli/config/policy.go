package config

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Policy holds the scan policy file configuration
type Policy struct {
	Path string
}

// Flags returns CLI flags for Policy configuration
func (p *Policy) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy",
			Usage:       "Path to the scan policy YAML file",
			Category:    "Pipeline",
			Sources:     cli.EnvVars("HARRIER_POLICY"),
			Destination: &p.Path,
		},
	}
}

// Configure loads the policy file, falling back to the default policy
// when no path is given
func (p *Policy) Configure(ctx context.Context) (*model.Policy, error) {
	if !p.IsConfigured() {
		ctxlog.From(ctx).Debug("No policy file given, using default policy")
		return model.DefaultPolicy(), nil
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(err, "policy file not found",
				goerr.V("path", p.Path))
		}
		return nil, goerr.Wrap(err, "failed to read policy file",
			goerr.V("path", p.Path))
	}

	policy := model.DefaultPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, goerr.Wrap(err, "failed to parse policy file",
			goerr.V("path", p.Path))
	}

	if err := policy.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid policy",
			goerr.V("path", p.Path))
	}

	return policy, nil
}

// IsConfigured checks if a policy file path is given
func (p *Policy) IsConfigured() bool {
	return p.Path != ""
}

// LogValue returns structured log value
func (p Policy) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", p.Path),
	)
}
