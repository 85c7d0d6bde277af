package interfaces

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackClient is the Slack API surface the notification service depends on.
// pkg/service/notify provides the real implementation backed by slack-go;
// tests substitute a recording mock.
type SlackClient interface {
	PostMessage(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}
