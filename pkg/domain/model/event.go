package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// FindingEvent represents one lifecycle transition of a finding. Events are
// append-only: the changelog is rendered from them and an event is never
// modified after it is stored.
type FindingEvent struct {
	ID         types.EventID     `json:"id"`
	FindingID  types.FindingID   `json:"findingId"`
	Type       types.EventType   `json:"type"`
	Scanner    types.ScannerName `json:"scanner"`
	Package    string            `json:"package"`
	Severity   types.Severity    `json:"severity"`
	Source     string            `json:"source"`
	Notes      string            `json:"notes,omitempty"`
	ScanID     types.ScanID      `json:"scanId"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// NewFindingEvent creates a lifecycle event snapshot from the finding's
// current state
func NewFindingEvent(finding *Finding, eventType types.EventType, scanID types.ScanID, at time.Time, notes string) (*FindingEvent, error) {
	if finding == nil {
		return nil, goerr.New("finding is nil")
	}
	if !eventType.IsValid() {
		return nil, goerr.New("invalid event type", goerr.V("type", eventType))
	}
	if scanID == "" {
		return nil, goerr.New("scan ID is required")
	}
	if at.IsZero() {
		return nil, goerr.New("event timestamp is required")
	}

	return &FindingEvent{
		ID:         types.NewEventID(),
		FindingID:  finding.ID,
		Type:       eventType,
		Scanner:    finding.Scanner,
		Package:    finding.Package,
		Severity:   finding.Severity,
		Source:     finding.Source(),
		Notes:      notes,
		ScanID:     scanID,
		OccurredAt: at,
	}, nil
}

// Validate validates the event
func (e *FindingEvent) Validate() error {
	if err := e.ID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid event ID")
	}
	if e.FindingID == "" {
		return goerr.New("finding ID is required")
	}
	if !e.Type.IsValid() {
		return goerr.New("invalid event type", goerr.V("type", e.Type))
	}
	if !e.Scanner.IsValid() {
		return goerr.New("invalid scanner name", goerr.V("scanner", e.Scanner))
	}
	if e.ScanID == "" {
		return goerr.New("scan ID is required")
	}
	if e.OccurredAt.IsZero() {
		return goerr.New("event timestamp is required")
	}
	return nil
}
