package bandit

import (
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// report mirrors the JSON emitted by `bandit -f json`
type report struct {
	Errors  []reportError    `json:"errors"`
	Metrics *json.RawMessage `json:"metrics"`
	Results []result         `json:"results"`
}

type reportError struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

type result struct {
	Filename        string `json:"filename"`
	IssueConfidence string `json:"issue_confidence"`
	IssueSeverity   string `json:"issue_severity"`
	IssueText       string `json:"issue_text"`
	IssueCWE        *cwe   `json:"issue_cwe"`
	LineNumber      int    `json:"line_number"`
	MoreInfo        string `json:"more_info"`
	TestID          string `json:"test_id"`
	TestName        string `json:"test_name"`
}

type cwe struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() types.ScannerName {
	return types.ScannerBandit
}

// Detect matches bandit's top-level results + metrics keys
func (p *Parser) Detect(data []byte) bool {
	var probe struct {
		Results *json.RawMessage `json:"results"`
		Metrics *json.RawMessage `json:"metrics"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Results != nil && probe.Metrics != nil
}

func (p *Parser) Parse(data []byte, target string) ([]*model.Finding, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal bandit report")
	}

	findings := make([]*model.Finding, 0, len(r.Results))
	for _, res := range r.Results {
		if res.TestID == "" || res.Filename == "" {
			return nil, goerr.New("bandit result missing test_id or filename",
				goerr.V("testID", res.TestID), goerr.V("filename", res.Filename))
		}

		// Identity is rule + file; the line number stays out so moved code
		// does not mint a new finding
		finding, err := model.NewFinding(types.ScannerBandit, res.TestID, target, res.Filename)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build bandit finding")
		}

		sev, _ := types.ParseSeverity(res.IssueSeverity)
		finding.Severity = sev
		finding.Location = fmt.Sprintf("%s:%d", res.Filename, res.LineNumber)
		finding.Title = res.TestName
		finding.Description = res.IssueText
		finding.URL = res.MoreInfo
		finding.Metadata = map[string]string{
			"confidence": res.IssueConfidence,
		}
		if res.IssueCWE != nil && res.IssueCWE.ID > 0 {
			finding.Metadata["cwe"] = fmt.Sprintf("CWE-%d", res.IssueCWE.ID)
		}

		findings = append(findings, finding)
	}

	return findings, nil
}
