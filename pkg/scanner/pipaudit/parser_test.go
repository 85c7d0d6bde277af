package pipaudit_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/scanner/pipaudit"
)

func TestParse(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "pip_audit_report.json"))
	gt.NoError(t, err).Required()

	p := pipaudit.New()
	findings, err := p.Parse(data, "mypylogger")
	gt.NoError(t, err)
	gt.Equal(t, 3, len(findings))

	f1 := findings[0]
	gt.Equal(t, types.ScannerPipAudit, f1.Scanner)
	gt.Equal(t, "PYSEC-2018-28", f1.RuleID)
	gt.Equal(t, "requests", f1.Package)
	gt.Equal(t, "requests@2.19.1", f1.Location)
	gt.Equal(t, types.SeverityUnknown, f1.Severity)
	gt.Equal(t, "2.20.0", f1.FixedVersion)
	gt.Equal(t, "CVE-2018-18074", f1.Metadata["aliases"])
	gt.Equal(t, "https://osv.dev/vulnerability/PYSEC-2018-28", f1.URL)
	// Title is the first sentence of the description
	gt.S(t, f1.Title).Contains("Requests package before 2.20.0")

	// Advisory with no description falls back to its ID
	f3 := findings[2]
	gt.Equal(t, "GHSA-v845-jxx5-vc9f", f3.RuleID)
	gt.Equal(t, "GHSA-v845-jxx5-vc9f", f3.Title)
	gt.Equal(t, "", f3.FixedVersion)
}

func TestParseIdentityIgnoresVersion(t *testing.T) {
	old := `{"dependencies": [{"name": "requests", "version": "2.19.1", "vulns": [{"id": "PYSEC-2018-28"}]}]}`
	upgraded := `{"dependencies": [{"name": "requests", "version": "2.19.3", "vulns": [{"id": "PYSEC-2018-28"}]}]}`

	p := pipaudit.New()
	first, err := p.Parse([]byte(old), "mypylogger")
	gt.NoError(t, err).Required()
	second, err := p.Parse([]byte(upgraded), "mypylogger")
	gt.NoError(t, err).Required()

	gt.Equal(t, first[0].ID, second[0].ID)
}

func TestParseCleanReport(t *testing.T) {
	p := pipaudit.New()
	findings, err := p.Parse([]byte(`{"dependencies": [{"name": "structlog", "version": "24.1.0", "vulns": []}], "fixes": []}`), "mypylogger")
	gt.NoError(t, err)
	gt.Equal(t, 0, len(findings))
}

func TestDetect(t *testing.T) {
	p := pipaudit.New()
	gt.True(t, p.Detect([]byte(`{"dependencies": []}`)))
	gt.False(t, p.Detect([]byte(`{"results": [], "metrics": {}}`)))
	gt.False(t, p.Detect([]byte(`[]`)))
}
