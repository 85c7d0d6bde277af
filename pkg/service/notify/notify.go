package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/slack-go/slack"
)

// Client wraps the slack-go client with context-aware calls
type Client struct {
	client *slack.Client
}

// NewClient creates a Slack API client from an OAuth token
func NewClient(token string) *Client {
	return &Client{
		client: slack.New(token),
	}
}

// PostMessage sends a message to a Slack channel
func (c *Client) PostMessage(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	channel, timestamp, err := c.client.PostMessageContext(ctx, channelID, options...)
	if err != nil {
		return "", "", goerr.Wrap(err, "failed to post message to Slack")
	}
	return channel, timestamp, nil
}

// AuthTestContext tests authentication and returns basic information about the bot
func (c *Client) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	resp, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to authenticate with Slack")
	}
	return resp, nil
}

// Service posts scan summaries to a Slack channel
type Service struct {
	client      interfaces.SlackClient
	channelID   string
	minSeverity types.Severity
	maxListed   int
}

// Option configures the notification service
type Option func(*Service)

// WithMinSeverity sets the minimum severity for events listed in the
// notification body. Counts always cover all events.
func WithMinSeverity(sev types.Severity) Option {
	return func(s *Service) {
		s.minSeverity = sev
	}
}

// WithMaxListedEvents caps the number of event lines per notification
func WithMaxListedEvents(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxListed = n
		}
	}
}

// New creates a notification service. A nil client or empty channel ID
// makes NotifyScan a no-op, so callers can construct the service
// unconditionally and configure Slack only when wanted.
func New(client interfaces.SlackClient, channelID string, opts ...Option) *Service {
	s := &Service{
		client:      client,
		channelID:   channelID,
		minSeverity: types.SeverityUnknown,
		maxListed:   20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ interfaces.Notifier = (*Service)(nil)

// NotifyScan posts a Block Kit summary of one ingested scan. Scans that
// produced no lifecycle events and no scanner errors are not announced.
func (s *Service) NotifyScan(ctx context.Context, scan *model.Scan, events []*model.FindingEvent) error {
	if scan == nil {
		return goerr.New("scan is nil")
	}
	if s.client == nil || s.channelID == "" {
		ctxlog.From(ctx).Debug("Slack notification skipped: not configured")
		return nil
	}
	if len(events) == 0 && !scan.HasErrors() {
		ctxlog.From(ctx).Debug("Slack notification skipped: nothing to report",
			"scanID", scan.ID)
		return nil
	}

	blocks := BuildScanBlocks(scan, events, s.minSeverity, s.maxListed)
	fallback := fmt.Sprintf("Security scan of %s: %d discovered, %d reopened, %d resolved",
		scan.Package, scan.Stats.Discovered, scan.Stats.Reopened, scan.Stats.Resolved)

	_, _, err := s.client.PostMessage(ctx, s.channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to post scan notification",
			goerr.V("channelID", s.channelID),
			goerr.V("scanID", scan.ID))
	}

	ctxlog.From(ctx).Info("Posted scan notification to Slack",
		"channelID", s.channelID,
		"scanID", scan.ID,
		"events", len(events))
	return nil
}

// BuildScanBlocks builds the Block Kit message for one scan: a header, the
// lifecycle counts, scanner errors if any, and event lines at or above
// minSeverity (worst first, capped at maxListed)
func BuildScanBlocks(scan *model.Scan, events []*model.FindingEvent, minSeverity types.Severity, maxListed int) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(
				slack.PlainTextType,
				fmt.Sprintf("Security scan: %s", scan.Package),
				false,
				false,
			),
		),
	}

	// Lifecycle counts as fields (side by side)
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Discovered:*\n%d", scan.Stats.Discovered), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Reopened:*\n%d", scan.Stats.Reopened), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Resolved:*\n%d", scan.Stats.Resolved), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Unchanged:*\n%d", scan.Stats.Unchanged), false, false),
	}
	blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))

	// Scanners and timestamp as context
	scanners := make([]string, 0, len(scan.Scanners))
	for _, sc := range scan.Scanners {
		scanners = append(scanners, sc.String())
	}
	contextText := fmt.Sprintf("Scanners: %s | %s",
		strings.Join(scanners, ", "),
		scan.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	blocks = append(blocks, slack.NewContextBlock(
		"",
		slack.NewTextBlockObject(slack.MarkdownType, contextText, false, false),
	))

	if scan.HasErrors() {
		lines := make([]string, 0, len(scan.Errors))
		for _, scanErr := range scan.Errors {
			name := scanErr.Scanner.String()
			if name == "" {
				name = scanErr.Path
			}
			lines = append(lines, fmt.Sprintf("• %s: %s", name, scanErr.Message))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				slack.MarkdownType,
				"⚠️ *Scanner errors:*\n"+strings.Join(lines, "\n"),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	listed := filterEvents(events, minSeverity)
	if len(listed) == 0 {
		return blocks
	}

	blocks = append(blocks, slack.NewDividerBlock())

	omitted := len(events) - len(listed)
	if maxListed > 0 && len(listed) > maxListed {
		omitted += len(listed) - maxListed
		listed = listed[:maxListed]
	}

	for _, event := range listed {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, formatEventText(event), false, false),
			nil,
			nil,
		))
	}

	if omitted > 0 {
		blocks = append(blocks, slack.NewContextBlock(
			"",
			slack.NewTextBlockObject(
				slack.MarkdownType,
				fmt.Sprintf("%d more events not shown", omitted),
				false,
				false,
			),
		))
	}

	return blocks
}

// filterEvents returns events at or above the minimum severity, worst first
func filterEvents(events []*model.FindingEvent, minSeverity types.Severity) []*model.FindingEvent {
	listed := make([]*model.FindingEvent, 0, len(events))
	for _, event := range events {
		if event.Severity.Rank() < minSeverity.Rank() {
			continue
		}
		listed = append(listed, event)
	}
	sort.SliceStable(listed, func(i, j int) bool {
		return listed[i].Severity.Rank() > listed[j].Severity.Rank()
	})
	return listed
}

// formatEventText formats one event line for the notification body
func formatEventText(event *model.FindingEvent) string {
	text := fmt.Sprintf("%s *%s* `%s` (%s)\n%s",
		severityEmoji(event.Severity),
		event.Type.Label(),
		event.FindingID,
		event.Severity,
		event.Source)
	if event.Notes != "" {
		notes := event.Notes
		// Keep event lines short; full notes live in the changelog
		if len(notes) > 200 {
			notes = notes[:197] + "..."
		}
		text += " - " + notes
	}
	return text
}

// severityEmoji returns the emoji used for a severity level
func severityEmoji(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical:
		return "🚨"
	case types.SeverityHigh:
		return "🔴"
	case types.SeverityMedium:
		return "🟠"
	case types.SeverityLow:
		return "🟡"
	default:
		return "⚪"
	}
}
