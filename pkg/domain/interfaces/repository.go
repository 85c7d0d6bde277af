package interfaces

//go:generate moq -out mocks/repository_mock.go -pkg mocks . Repository

import (
	"context"
	"time"

	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// FindingFilter narrows ListFindings results. Zero values match everything.
type FindingFilter struct {
	Status      types.FindingStatus
	Scanner     types.ScannerName
	MinSeverity types.Severity
}

// Matches reports whether a finding passes the filter.
func (x FindingFilter) Matches(finding *model.Finding) bool {
	if x.Status != "" && finding.Status != x.Status {
		return false
	}
	if x.Scanner != "" && finding.Scanner != x.Scanner {
		return false
	}
	if x.MinSeverity != "" && finding.Severity.Rank() < x.MinSeverity.Rank() {
		return false
	}
	return true
}

// Repository defines the interface for finding registry persistence
type Repository interface {
	// Finding operations
	PutFinding(ctx context.Context, finding *model.Finding) error
	GetFinding(ctx context.Context, id types.FindingID) (*model.Finding, error)
	ListFindings(ctx context.Context, filter FindingFilter) ([]*model.Finding, error)
	ListOpenFindingsByScanner(ctx context.Context, scanner types.ScannerName) ([]*model.Finding, error)

	// Event operations
	PutEvent(ctx context.Context, event *model.FindingEvent) error
	ListEventsByFinding(ctx context.Context, findingID types.FindingID) ([]*model.FindingEvent, error)
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*model.FindingEvent, error)

	// Scan operations
	PutScan(ctx context.Context, scan *model.Scan) error
	GetScan(ctx context.Context, id types.ScanID) (*model.Scan, error)
	ListScans(ctx context.Context, limit int) ([]*model.Scan, error)
	GetLatestScan(ctx context.Context) (*model.Scan, error)

	// Close closes the repository connection
	Close() error
}
