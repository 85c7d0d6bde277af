package pipaudit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// report mirrors the JSON emitted by `pip-audit -f json`
type report struct {
	Dependencies []dependency `json:"dependencies"`
}

type dependency struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Vulns      []vuln `json:"vulns"`
	SkipReason string `json:"skip_reason"`
}

type vuln struct {
	ID          string   `json:"id"`
	FixVersions []string `json:"fix_versions"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() types.ScannerName {
	return types.ScannerPipAudit
}

// Detect matches pip-audit's top-level dependencies key
func (p *Parser) Detect(data []byte) bool {
	var probe struct {
		Dependencies *json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Dependencies != nil
}

func (p *Parser) Parse(data []byte, target string) ([]*model.Finding, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal pip-audit report")
	}

	var findings []*model.Finding
	for _, dep := range r.Dependencies {
		for _, v := range dep.Vulns {
			if v.ID == "" || dep.Name == "" {
				return nil, goerr.New("pip-audit vuln missing id or dependency name",
					goerr.V("id", v.ID), goerr.V("dependency", dep.Name))
			}

			// One finding per (dependency, advisory); the installed version
			// stays out of identity so an upgrade that does not fix the
			// advisory is not a new finding
			finding, err := model.NewFinding(types.ScannerPipAudit, v.ID, dep.Name)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to build pip-audit finding")
			}

			// pip-audit advisories carry no severity of their own
			finding.Severity = types.SeverityUnknown
			finding.Location = fmt.Sprintf("%s@%s", dep.Name, dep.Version)
			finding.Title = advisoryTitle(v)
			finding.Description = v.Description
			finding.FixedVersion = strings.Join(v.FixVersions, ", ")
			finding.URL = "https://osv.dev/vulnerability/" + v.ID
			if len(v.Aliases) > 0 {
				finding.Metadata = map[string]string{
					"aliases": strings.Join(v.Aliases, ", "),
				}
			}

			findings = append(findings, finding)
		}
	}

	return findings, nil
}

// advisoryTitle derives a short title from the advisory description,
// falling back to the advisory ID
func advisoryTitle(v vuln) string {
	desc := strings.TrimSpace(v.Description)
	if desc == "" {
		return v.ID
	}
	// Cut at the first sentence boundary. A bare '.' is not usable here
	// because version numbers contain periods.
	if idx := strings.Index(desc, ". "); idx > 0 {
		desc = desc[:idx]
	}
	if idx := strings.IndexByte(desc, '\n'); idx > 0 {
		desc = desc[:idx]
	}
	const maxLen = 120
	if len(desc) > maxLen {
		desc = desc[:maxLen-3] + "..."
	}
	return desc
}
