package trivy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/scanner/trivy"
)

func TestParse(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "trivy_report.json"))
	gt.NoError(t, err).Required()

	p := trivy.New()
	findings, err := p.Parse(data, "mypylogger")
	gt.NoError(t, err)
	gt.Equal(t, 2, len(findings))

	f1 := findings[0]
	gt.Equal(t, types.ScannerTrivy, f1.Scanner)
	gt.Equal(t, "CVE-2024-3651", f1.RuleID)
	gt.Equal(t, "idna", f1.Package)
	gt.Equal(t, "idna@3.4", f1.Location)
	gt.Equal(t, types.SeverityMedium, f1.Severity)
	gt.Equal(t, "3.7", f1.FixedVersion)
	gt.Equal(t, "https://avd.aquasec.com/nvd/cve-2024-3651", f1.URL)
	gt.Equal(t, "requirements-dev.txt", f1.Metadata["target"])

	// Missing title falls back to the vulnerability ID, missing primary URL
	// falls back to the first reference
	f2 := findings[1]
	gt.Equal(t, "CVE-2023-45803", f2.RuleID)
	gt.Equal(t, "CVE-2023-45803", f2.Title)
	gt.Equal(t, types.SeverityHigh, f2.Severity)
	gt.S(t, f2.URL).Contains("GHSA-g4mx-q9vg-27p4")
}

func TestParseIdentityIncludesTarget(t *testing.T) {
	prod := `{"SchemaVersion": 2, "Results": [{"Target": "requirements.txt", "Vulnerabilities": [
		{"VulnerabilityID": "CVE-2023-45803", "PkgName": "urllib3", "InstalledVersion": "1.26.4", "Severity": "HIGH"}
	]}]}`
	dev := `{"SchemaVersion": 2, "Results": [{"Target": "requirements-dev.txt", "Vulnerabilities": [
		{"VulnerabilityID": "CVE-2023-45803", "PkgName": "urllib3", "InstalledVersion": "1.26.4", "Severity": "HIGH"}
	]}]}`

	p := trivy.New()
	first, err := p.Parse([]byte(prod), "mypylogger")
	gt.NoError(t, err).Required()
	second, err := p.Parse([]byte(dev), "mypylogger")
	gt.NoError(t, err).Required()

	// Same CVE in two lockfiles is two findings
	gt.V(t, first[0].ID).NotEqual(second[0].ID)
}

func TestParseEmptyResults(t *testing.T) {
	p := trivy.New()

	findings, err := p.Parse([]byte(`{"SchemaVersion": 2, "Results": []}`), "mypylogger")
	gt.NoError(t, err)
	gt.Equal(t, 0, len(findings))

	findings, err = p.Parse([]byte(`{"SchemaVersion": 2, "Results": [{"Target": "pyproject.toml", "Vulnerabilities": null}]}`), "mypylogger")
	gt.NoError(t, err)
	gt.Equal(t, 0, len(findings))
}

func TestDetect(t *testing.T) {
	p := trivy.New()
	gt.True(t, p.Detect([]byte(`{"SchemaVersion": 2, "Results": []}`)))
	gt.False(t, p.Detect([]byte(`{"results": [], "metrics": {}}`)))
	gt.False(t, p.Detect([]byte(`{"Results": []}`)))
	gt.False(t, p.Detect([]byte(`[]`)))
}
