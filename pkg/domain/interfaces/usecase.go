package interfaces

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// ReportInput is one raw scanner report to ingest. Scanner pins the parser;
// when empty the report format is auto-detected.
type ReportInput struct {
	Path    string // origin of the report, used in error messages (may be empty for API bodies)
	Data    []byte
	Scanner types.ScannerName
}

// IngestRequest carries one batch of scanner reports for the target package
type IngestRequest struct {
	Package string
	Reports []ReportInput

	// Errors records scanners that failed before their report could be
	// produced (e.g. the tool itself failed to run). Such scanners are
	// excluded from resolution diffing.
	Errors []model.ScanError

	// Timestamp is the scan time used for all lifecycle events of the
	// batch. Zero means now.
	Timestamp time.Time

	// Duration overrides the recorded scan duration. Zero means the
	// pipeline measures its own wall time.
	Duration time.Duration
}

// IngestResult is the outcome of one ingested batch
type IngestResult struct {
	Scan   *model.Scan
	Events []*model.FindingEvent
}

// Ingest defines the interface for the scan ingestion pipeline
type Ingest interface {
	Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error)
}

// Findings defines read and annotation operations over the finding registry
type Findings interface {
	// ListFindings returns findings matching the filter
	ListFindings(ctx context.Context, filter FindingFilter) ([]*model.Finding, error)

	// GetFindingWithEvents returns a finding and its lifecycle history
	GetFindingWithEvents(ctx context.Context, id types.FindingID) (*model.Finding, []*model.FindingEvent, error)

	// CountOpenBySeverity tallies open findings per severity
	CountOpenBySeverity(ctx context.Context) (map[types.Severity]int, error)

	// MaxOpenSeverity returns the highest severity among open findings,
	// or SeverityUnknown when nothing is open
	MaxOpenSeverity(ctx context.Context) (types.Severity, error)

	// ResolveFinding closes a finding manually with an accepted-risk note
	ResolveFinding(ctx context.Context, id types.FindingID, note string) (*model.Finding, error)
}

// Auth issues and verifies the HS256 bearer tokens protecting the API.
// A nil Auth or one without a configured secret leaves the API open.
type Auth interface {
	// Enabled reports whether a token secret is configured
	Enabled() bool

	// IssueToken mints a signed API token for the given subject
	IssueToken(subject string, ttl time.Duration) (string, error)

	// VerifyToken parses a raw token and validates its signature and claims
	VerifyToken(raw string) (jwt.Token, error)
}
