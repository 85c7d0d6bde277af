package types

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Severity represents a normalized severity level
type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities returns all severity levels in ascending rank order
func Severities() []Severity {
	return []Severity{SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Rank returns an integer rank for comparison (low=1, critical=4, unknown=0)
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ParseSeverity parses a severity string case-insensitively.
// Scanner vocabularies differ: "moderate" (npm/GitHub advisories) maps to
// medium, and an empty string maps to unknown without error.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SeverityUnknown, nil
	case "low", "info", "informational":
		return SeverityLow, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	case "unknown":
		return SeverityUnknown, nil
	default:
		return SeverityUnknown, goerr.New("invalid severity", goerr.V("severity", s))
	}
}
