package model

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Finding represents a normalized security finding tracked across scans
type Finding struct {
	ID           types.FindingID     `json:"id"`
	Scanner      types.ScannerName   `json:"scanner"`
	RuleID       string              `json:"ruleId"`       // scanner rule or advisory ID (e.g. B603, PYSEC-2024-48, CVE-2024-1234)
	Package      string              `json:"package"`      // scanned package or affected dependency
	Location     string              `json:"location"`     // file:line for code scanners, name@version for dependency scanners
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Severity     types.Severity      `json:"severity"`
	Status       types.FindingStatus `json:"status"`
	FixedVersion string              `json:"fixedVersion,omitempty"` // dependency scans only
	URL          string              `json:"url,omitempty"`
	Notes        string              `json:"notes,omitempty"` // remediation or triage notes
	FirstSeenAt  time.Time           `json:"firstSeenAt"`
	LastSeenAt   time.Time           `json:"lastSeenAt"`
	ResolvedAt   *time.Time          `json:"resolvedAt,omitempty"`
	LastScanID   types.ScanID        `json:"lastScanId"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

// NewFinding creates a new Finding. The finding ID is derived from the
// scanner name, rule ID, package, and any extra identity parts; callers must
// pass the same identity for the same logical issue on every scan so the
// ingest diff can match findings across runs. Volatile values (line numbers,
// timestamps) must not be part of identity.
func NewFinding(scanner types.ScannerName, ruleID, pkg string, identity ...string) (*Finding, error) {
	if !scanner.IsValid() {
		return nil, goerr.New("invalid scanner name", goerr.V("scanner", scanner))
	}
	if ruleID == "" {
		return nil, goerr.New("rule ID is required")
	}
	if pkg == "" {
		return nil, goerr.New("package is required")
	}

	parts := append([]string{ruleID, pkg}, identity...)

	return &Finding{
		ID:       types.NewFindingID(scanner, parts...),
		Scanner:  scanner,
		RuleID:   ruleID,
		Package:  pkg,
		Severity: types.SeverityUnknown,
		Status:   types.FindingStatusOpen,
	}, nil
}

// Validate validates the finding
func (f *Finding) Validate() error {
	if f.ID == "" {
		return goerr.New("finding ID is required")
	}
	if !f.Scanner.IsValid() {
		return goerr.New("invalid scanner name", goerr.V("scanner", f.Scanner))
	}
	if f.RuleID == "" {
		return goerr.New("rule ID is required", goerr.V("id", f.ID))
	}
	if f.Package == "" {
		return goerr.New("package is required", goerr.V("id", f.ID))
	}
	if !f.Severity.IsValid() {
		return goerr.New("invalid severity", goerr.V("id", f.ID), goerr.V("severity", f.Severity))
	}
	if !f.Status.IsValid() {
		return goerr.New("invalid status", goerr.V("id", f.ID), goerr.V("status", f.Status))
	}
	return nil
}

// IsOpen returns true if the finding is currently open
func (f *Finding) IsOpen() bool {
	return f.Status == types.FindingStatusOpen
}

// Resolve transitions the finding from open to resolved
func (f *Finding) Resolve(at time.Time, scanID types.ScanID) error {
	if f.Status == types.FindingStatusResolved {
		return goerr.Wrap(ErrAlreadyResolved, "cannot resolve finding", goerr.V("id", f.ID))
	}
	f.Status = types.FindingStatusResolved
	f.ResolvedAt = &at
	f.LastScanID = scanID
	return nil
}

// Reopen transitions the finding from resolved back to open. Used when a
// previously resolved issue reappears in a later scan.
func (f *Finding) Reopen(at time.Time, scanID types.ScanID) error {
	if f.Status == types.FindingStatusOpen {
		return goerr.New("finding is already open", goerr.V("id", f.ID))
	}
	f.Status = types.FindingStatusOpen
	f.ResolvedAt = nil
	f.LastSeenAt = at
	f.LastScanID = scanID
	return nil
}

// Touch records that the finding was seen again in a scan without a
// lifecycle transition
func (f *Finding) Touch(at time.Time, scanID types.ScanID) {
	f.LastSeenAt = at
	f.LastScanID = scanID
}

// Source returns the human-readable origin used in changelog entries:
// the location when present, otherwise the package
func (f *Finding) Source() string {
	if f.Location != "" {
		return f.Location
	}
	return f.Package
}

// Summary returns a one-line description for notifications and reports
func (f *Finding) Summary() string {
	if f.Title != "" {
		return fmt.Sprintf("[%s] %s: %s", f.Severity, f.RuleID, f.Title)
	}
	return fmt.Sprintf("[%s] %s in %s", f.Severity, f.RuleID, f.Source())
}
