package config

import (
	"log/slog"

	"github.com/urfave/cli/v3"
)

// Auth holds API token configuration
type Auth struct {
	TokenSecret string
}

// Flags returns CLI flags for Auth configuration
func (a *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "token-secret",
			Usage:       "Secret for signing and verifying API tokens. Empty leaves the API unauthenticated",
			Category:    "Auth",
			Sources:     cli.EnvVars("HARRIER_TOKEN_SECRET"),
			Destination: &a.TokenSecret,
		},
	}
}

// IsConfigured checks if the token secret is set
func (a *Auth) IsConfigured() bool {
	return a.TokenSecret != ""
}

// LogValue returns structured log value
func (a Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_token_secret", a.TokenSecret != ""),
	)
}
