package gitleaks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// leak mirrors one element of the JSON array emitted by `gitleaks detect`
type leak struct {
	RuleID      string  `json:"RuleID"`
	Description string  `json:"Description"`
	File        string  `json:"File"`
	StartLine   int     `json:"StartLine"`
	Secret      string  `json:"Secret"`
	Match       string  `json:"Match"`
	Commit      string  `json:"Commit"`
	Entropy     float64 `json:"Entropy"`
}

// criticalRules are rule IDs for concrete credential formats; generic or
// entropy-based matches stay at high
var criticalRules = map[string]struct{}{
	"aws-access-token":    {},
	"gcp-api-key":         {},
	"github-pat":          {},
	"github-oauth":        {},
	"github-app-token":    {},
	"gitlab-pat":          {},
	"slack-bot-token":     {},
	"slack-user-token":    {},
	"stripe-access-token": {},
	"openai-api-key":      {},
	"private-key":         {},
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() types.ScannerName {
	return types.ScannerGitleaks
}

// Detect matches gitleaks' top-level array of leak objects. An empty array
// is a clean gitleaks report.
func (p *Parser) Detect(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return false
	}
	var probe []struct {
		RuleID string `json:"RuleID"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return len(probe) == 0 || probe[0].RuleID != ""
}

func (p *Parser) Parse(data []byte, target string) ([]*model.Finding, error) {
	var leaks []leak
	if err := json.Unmarshal(data, &leaks); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal gitleaks report")
	}

	findings := make([]*model.Finding, 0, len(leaks))
	for _, l := range leaks {
		if l.RuleID == "" || l.File == "" {
			return nil, goerr.New("gitleaks leak missing RuleID or File",
				goerr.V("ruleID", l.RuleID), goerr.V("file", l.File))
		}

		// Identity is rule + file + secret hash: moving a secret inside a
		// file keeps the finding, rotating the secret mints a new one.
		// The raw secret value is never stored anywhere.
		secretHash := hashSecret(l.Secret)
		finding, err := model.NewFinding(types.ScannerGitleaks, l.RuleID, target, l.File, secretHash)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build gitleaks finding")
		}

		finding.Severity = ruleSeverity(l.RuleID)
		finding.Location = fmt.Sprintf("%s:%d", l.File, l.StartLine)
		finding.Title = l.Description
		if finding.Title == "" {
			finding.Title = l.RuleID
		}
		finding.Description = fmt.Sprintf("potential secret matching rule %s (value redacted)", l.RuleID)
		finding.Metadata = map[string]string{
			"secretHash": secretHash,
		}
		if l.Commit != "" {
			finding.Metadata["commit"] = l.Commit
		}
		if l.Entropy > 0 {
			finding.Metadata["entropy"] = fmt.Sprintf("%.2f", l.Entropy)
		}

		findings = append(findings, finding)
	}

	return findings, nil
}

func ruleSeverity(ruleID string) types.Severity {
	if _, ok := criticalRules[ruleID]; ok {
		return types.SeverityCritical
	}
	return types.SeverityHigh
}

// hashSecret returns a short fingerprint of the secret value so findings
// can be matched across scans without retaining the secret itself
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}
