package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// FindingsUseCase implements the Findings interface
type FindingsUseCase struct {
	repo      interfaces.Repository
	changelog interfaces.ChangelogWriter
}

var _ interfaces.Findings = (*FindingsUseCase)(nil)

// FindingsOption is a functional option for configuring FindingsUseCase
type FindingsOption func(*FindingsUseCase)

// WithResolutionChangelog appends manual resolutions to the changelog
func WithResolutionChangelog(w interfaces.ChangelogWriter) FindingsOption {
	return func(u *FindingsUseCase) {
		u.changelog = w
	}
}

// NewFindings creates a new FindingsUseCase instance
func NewFindings(repo interfaces.Repository, opts ...FindingsOption) *FindingsUseCase {
	u := &FindingsUseCase{repo: repo}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ListFindings returns findings matching the filter
func (u *FindingsUseCase) ListFindings(ctx context.Context, filter interfaces.FindingFilter) ([]*model.Finding, error) {
	findings, err := u.repo.ListFindings(ctx, filter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list findings")
	}
	return findings, nil
}

// GetFindingWithEvents returns a finding and its lifecycle history
func (u *FindingsUseCase) GetFindingWithEvents(ctx context.Context, id types.FindingID) (*model.Finding, []*model.FindingEvent, error) {
	finding, err := u.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to get finding",
			goerr.V("findingID", id))
	}

	events, err := u.repo.ListEventsByFinding(ctx, id)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to list finding events",
			goerr.V("findingID", id))
	}

	return finding, events, nil
}

// CountOpenBySeverity tallies open findings per severity
func (u *FindingsUseCase) CountOpenBySeverity(ctx context.Context) (map[types.Severity]int, error) {
	findings, err := u.repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusOpen})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list open findings")
	}

	counts := make(map[types.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts, nil
}

// MaxOpenSeverity returns the highest severity among open findings, or
// SeverityUnknown when nothing is open
func (u *FindingsUseCase) MaxOpenSeverity(ctx context.Context) (types.Severity, error) {
	findings, err := u.repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusOpen})
	if err != nil {
		return types.SeverityUnknown, goerr.Wrap(err, "failed to list open findings")
	}

	maxSev := types.SeverityUnknown
	for _, f := range findings {
		if f.Severity.Rank() > maxSev.Rank() {
			maxSev = f.Severity
		}
	}
	return maxSev, nil
}

// ResolveFinding closes a finding manually, recording an accepted-risk note.
// The resolution event stays attached to the finding's last scan.
func (u *FindingsUseCase) ResolveFinding(ctx context.Context, id types.FindingID, note string) (*model.Finding, error) {
	finding, err := u.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get finding",
			goerr.V("findingID", id))
	}

	now := time.Now()
	if err := finding.Resolve(now, finding.LastScanID); err != nil {
		return nil, goerr.Wrap(err, "failed to resolve finding",
			goerr.V("findingID", id))
	}
	if note != "" {
		finding.Notes = note
	}

	eventNote := note
	if eventNote == "" {
		eventNote = "Resolved manually"
	}
	event, err := model.NewFindingEvent(finding, types.EventTypeResolved, finding.LastScanID, now, eventNote)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create resolution event",
			goerr.V("findingID", id))
	}

	if err := u.repo.PutFinding(ctx, finding); err != nil {
		return nil, goerr.Wrap(err, "failed to store finding",
			goerr.V("findingID", id))
	}
	if err := u.repo.PutEvent(ctx, event); err != nil {
		return nil, goerr.Wrap(err, "failed to store event",
			goerr.V("eventID", event.ID),
			goerr.V("findingID", id))
	}

	if u.changelog != nil {
		if err := u.changelog.Append(ctx, []*model.FindingEvent{event}); err != nil {
			return nil, goerr.Wrap(err, "failed to append changelog",
				goerr.V("findingID", id))
		}
	}

	ctxlog.From(ctx).Info("Finding resolved manually",
		"findingID", id,
		"note", note,
	)

	return finding, nil
}
