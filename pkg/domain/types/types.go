package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ScannerName identifies a supported security scanner
type ScannerName string

const (
	ScannerBandit   ScannerName = "bandit"
	ScannerPipAudit ScannerName = "pip-audit"
	ScannerGitleaks ScannerName = "gitleaks"
	ScannerTrivy    ScannerName = "trivy"
)

// String returns the string representation
func (s ScannerName) String() string {
	return string(s)
}

// IsValid checks if the scanner name is one of the supported scanners
func (s ScannerName) IsValid() bool {
	switch s {
	case ScannerBandit, ScannerPipAudit, ScannerGitleaks, ScannerTrivy:
		return true
	default:
		return false
	}
}

// FindingID is the stable identity of a finding across scans.
// The same issue reported by the same scanner in consecutive scans must
// yield the same FindingID, so the ingest diff can match them.
type FindingID string

// findingIDHexLen is the number of fingerprint hex characters kept in the ID
const findingIDHexLen = 12

// NewFindingID builds a deterministic finding ID from the scanner name and
// the finding's identity parts (rule, package, normalized location, ...).
// The format is "<scanner>-<12 hex chars>" where the hex portion is the
// leading bytes of a SHA-256 digest over the parts.
func NewFindingID(scanner ScannerName, parts ...string) FindingID {
	h := sha256.New()
	h.Write([]byte(scanner.String()))
	for _, p := range parts {
		h.Write([]byte{0x1f})
		h.Write([]byte(p))
	}
	digest := hex.EncodeToString(h.Sum(nil))
	return FindingID(scanner.String() + "-" + digest[:findingIDHexLen])
}

// String returns the string representation
func (id FindingID) String() string {
	return string(id)
}

// Scanner extracts the scanner portion of the finding ID.
// Returns an empty ScannerName if the ID is malformed.
func (id FindingID) Scanner() ScannerName {
	idx := strings.LastIndex(string(id), "-")
	if idx <= 0 {
		return ""
	}
	return ScannerName(id[:idx])
}

// ScanID represents an ingested scan batch identifier
type ScanID string

// NewScanID creates a new ScanID
func NewScanID() ScanID {
	return ScanID(uuid.New().String())
}

// String returns the string representation
func (id ScanID) String() string {
	return string(id)
}
