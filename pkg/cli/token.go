package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/cli/config"
	"github.com/secmon-lab/harrier/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdToken() *cli.Command {
	var (
		authCfg   config.Auth
		subject   string
		expiresIn time.Duration
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "subject",
				Usage:       "Subject the token is issued to, e.g. a CI pipeline name",
				Category:    "Auth",
				Destination: &subject,
			},
			&cli.DurationFlag{
				Name:        "expires-in",
				Usage:       "Token lifetime",
				Category:    "Auth",
				Value:       24 * time.Hour,
				Destination: &expiresIn,
			},
		},
		authCfg.Flags(),
	)

	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API token for the HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if subject == "" {
				return goerr.New("--subject is required")
			}

			authUC := usecase.NewAuth([]byte(authCfg.TokenSecret))
			if !authUC.Enabled() {
				return goerr.New("token secret is not configured")
			}

			token, err := authUC.IssueToken(subject, expiresIn)
			if err != nil {
				return goerr.Wrap(err, "failed to issue token")
			}

			// Bare token on stdout so shells can capture it
			fmt.Println(token)
			return nil
		},
	}
}
