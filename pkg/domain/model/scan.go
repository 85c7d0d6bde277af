package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Scan represents one ingested batch of scanner reports
type Scan struct {
	ID        types.ScanID        `json:"id"`
	Package   string              `json:"package"` // scan target package name
	Scanners  []types.ScannerName `json:"scanners"`
	StartedAt time.Time           `json:"startedAt"`
	Duration  time.Duration       `json:"duration"`
	Stats     ScanStats           `json:"stats"`
	Errors    []ScanError         `json:"errors,omitempty"`
}

// ScanStats holds per-scan counters
type ScanStats struct {
	Total      int `json:"total"`      // findings parsed from reports, after in-batch dedupe
	Suppressed int `json:"suppressed"` // dropped by policy suppression rules
	Discovered int `json:"discovered"`
	Reopened   int `json:"reopened"`
	Resolved   int `json:"resolved"`
	Unchanged  int `json:"unchanged"`
}

// ScanError records a scanner whose report could not be processed. Findings
// of an errored scanner are excluded from the diff so a broken run never
// mass-resolves them.
type ScanError struct {
	Scanner types.ScannerName `json:"scanner,omitempty"` // empty when format detection failed
	Path    string            `json:"path"`
	Message string            `json:"message"`
}

// NewScan creates a new Scan for the given target package
func NewScan(pkg string, startedAt time.Time) (*Scan, error) {
	if pkg == "" {
		return nil, goerr.New("scan target package is required")
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	return &Scan{
		ID:        types.NewScanID(),
		Package:   pkg,
		StartedAt: startedAt,
	}, nil
}

// Validate validates the scan record
func (s *Scan) Validate() error {
	if s.ID == "" {
		return goerr.New("scan ID is required")
	}
	if s.Package == "" {
		return goerr.New("scan target package is required")
	}
	if s.StartedAt.IsZero() {
		return goerr.New("scan start timestamp is required")
	}
	for _, sc := range s.Scanners {
		if !sc.IsValid() {
			return goerr.New("invalid scanner name", goerr.V("scanner", sc))
		}
	}
	return nil
}

// Covers returns true if the scan successfully processed a report of the
// given scanner
func (s *Scan) Covers(scanner types.ScannerName) bool {
	for _, sc := range s.Scanners {
		if sc == scanner {
			return true
		}
	}
	return false
}

// AddScanner records a successfully processed scanner, ignoring duplicates
func (s *Scan) AddScanner(scanner types.ScannerName) {
	if !s.Covers(scanner) {
		s.Scanners = append(s.Scanners, scanner)
	}
}

// HasErrors returns true if any report failed to process
func (s *Scan) HasErrors() bool {
	return len(s.Errors) > 0
}
