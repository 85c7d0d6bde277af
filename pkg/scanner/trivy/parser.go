package trivy

import (
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// report mirrors the JSON emitted by `trivy fs --format json`
type report struct {
	SchemaVersion int      `json:"SchemaVersion"`
	Results       []result `json:"Results"`
}

type result struct {
	Target          string          `json:"Target"`
	Vulnerabilities []vulnerability `json:"Vulnerabilities"`
}

type vulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Title            string   `json:"Title"`
	Description      string   `json:"Description"`
	Severity         string   `json:"Severity"`
	PrimaryURL       string   `json:"PrimaryURL"`
	References       []string `json:"References"`
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() types.ScannerName {
	return types.ScannerTrivy
}

// Detect matches trivy's capitalized Results key plus its schema marker
func (p *Parser) Detect(data []byte) bool {
	var probe struct {
		Results       *json.RawMessage `json:"Results"`
		SchemaVersion int              `json:"SchemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Results != nil && probe.SchemaVersion > 0
}

func (p *Parser) Parse(data []byte, target string) ([]*model.Finding, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal trivy report")
	}

	var findings []*model.Finding
	for _, res := range r.Results {
		for _, v := range res.Vulnerabilities {
			if v.VulnerabilityID == "" || v.PkgName == "" {
				return nil, goerr.New("trivy vulnerability missing ID or package",
					goerr.V("vulnerabilityID", v.VulnerabilityID), goerr.V("package", v.PkgName))
			}

			// The result target (lockfile or image layer) is part of
			// identity: the same CVE in two lockfiles is two findings
			finding, err := model.NewFinding(types.ScannerTrivy, v.VulnerabilityID, v.PkgName, res.Target)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to build trivy finding")
			}

			sev, _ := types.ParseSeverity(v.Severity)
			finding.Severity = sev
			finding.Location = fmt.Sprintf("%s@%s", v.PkgName, v.InstalledVersion)
			finding.Title = v.Title
			if finding.Title == "" {
				finding.Title = v.VulnerabilityID
			}
			finding.Description = v.Description
			finding.FixedVersion = v.FixedVersion
			finding.URL = v.PrimaryURL
			if finding.URL == "" && len(v.References) > 0 {
				finding.URL = v.References[0]
			}
			finding.Metadata = map[string]string{
				"target": res.Target,
			}

			findings = append(findings, finding)
		}
	}

	return findings, nil
}
