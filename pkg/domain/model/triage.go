package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// TriageResult holds an LLM assessment of a discovered finding.
type TriageResult struct {
	FindingID   types.FindingID `json:"findingId"`
	Summary     string          `json:"summary"`
	Impact      string          `json:"impact"`
	Remediation string          `json:"remediation"`
	Confidence  string          `json:"confidence"`
}

// Validate validates the triage result fields
func (x *TriageResult) Validate() error {
	if x.FindingID == "" {
		return goerr.New("finding ID is required")
	}
	if x.Summary == "" {
		return goerr.New("summary is required")
	}
	return nil
}

// Note renders the assessment as a single note suitable for the finding's
// Notes field and changelog entry
func (x *TriageResult) Note() string {
	parts := make([]string, 0, 2)
	if x.Summary != "" {
		parts = append(parts, x.Summary)
	}
	if x.Remediation != "" {
		parts = append(parts, "Remediation: "+x.Remediation)
	}
	return strings.Join(parts, " ")
}
