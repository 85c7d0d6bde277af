package report_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/repository"
	"github.com/secmon-lab/harrier/pkg/service/report"
)

func seedFinding(t *testing.T, repo interfaces.Repository, ruleID string, sev types.Severity, resolved bool) *model.Finding {
	t.Helper()
	ctx := context.Background()

	finding, err := model.NewFinding(types.ScannerBandit, ruleID, "mypylogger", "src/mypylogger/core.py")
	gt.NoError(t, err).Required()
	finding.Severity = sev
	finding.Title = "Test finding " + ruleID
	finding.Location = "src/mypylogger/core.py:42"
	finding.FirstSeenAt = time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)
	finding.LastSeenAt = finding.FirstSeenAt
	if resolved {
		gt.NoError(t, finding.Resolve(time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC), types.NewScanID()))
	}

	gt.NoError(t, repo.PutFinding(ctx, finding))
	return finding
}

func seedScan(t *testing.T, repo interfaces.Repository, errs ...model.ScanError) *model.Scan {
	t.Helper()
	ctx := context.Background()

	scan, err := model.NewScan("mypylogger", time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))
	gt.NoError(t, err).Required()
	scan.AddScanner(types.ScannerBandit)
	scan.Errors = errs

	gt.NoError(t, repo.PutScan(ctx, scan))
	return scan
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	seedFinding(t, repo, "B603", types.SeverityMedium, false)
	seedFinding(t, repo, "B602", types.SeverityCritical, false)
	seedFinding(t, repo, "B404", types.SeverityLow, false)
	seedFinding(t, repo, "B101", types.SeverityLow, true)
	scan := seedScan(t, repo)

	svc := report.New(repo)
	data, err := svc.Collect(ctx, time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC))
	gt.NoError(t, err).Required()

	gt.Equal(t, len(data.OpenFindings), 3)
	gt.Equal(t, data.OpenFindings[0].Severity, types.SeverityCritical)
	gt.Equal(t, data.OpenFindings[1].Severity, types.SeverityMedium)
	gt.Equal(t, data.OpenFindings[2].Severity, types.SeverityLow)
	gt.Equal(t, data.ResolvedCount, 1)
	gt.Equal(t, data.Counts[types.SeverityCritical], 1)
	gt.Equal(t, data.Counts[types.SeverityLow], 1)
	gt.NotNil(t, data.LatestScan)
	gt.Equal(t, data.LatestScan.ID, scan.ID)
}

func TestCollectEmpty(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	svc := report.New(repo)
	data, err := svc.Collect(ctx, time.Now())
	gt.NoError(t, err).Required()

	gt.Equal(t, len(data.OpenFindings), 0)
	gt.Equal(t, data.ResolvedCount, 0)
	gt.Nil(t, data.LatestScan)
}

func TestRenderMarkdown(t *testing.T) {
	ctx := context.Background()

	t.Run("Full report", func(t *testing.T) {
		repo := repository.NewMemory()
		medium := seedFinding(t, repo, "B603", types.SeverityMedium, false)
		seedScan(t, repo, model.ScanError{
			Scanner: types.ScannerPipAudit,
			Path:    "pip-audit.json",
			Message: "unknown report format",
		})

		svc := report.New(repo)
		data, err := svc.Collect(ctx, time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC))
		gt.NoError(t, err).Required()

		md := report.RenderMarkdown(data)
		gt.S(t, md).Contains("# Security Findings Report")
		gt.S(t, md).Contains("**Generated:** 2026-08-21 12:00:00 UTC")
		gt.S(t, md).Contains("**Target:** `mypylogger`")
		gt.S(t, md).Contains("| medium | 1 |")
		gt.S(t, md).Contains(medium.ID.String())
		gt.S(t, md).Contains("## bandit Findings (1)")
		gt.S(t, md).Contains("## Scanner Errors (1)")
		gt.S(t, md).Contains("unknown report format")
	})

	t.Run("Empty registry", func(t *testing.T) {
		repo := repository.NewMemory()

		svc := report.New(repo)
		data, err := svc.Collect(ctx, time.Now())
		gt.NoError(t, err).Required()

		md := report.RenderMarkdown(data)
		gt.S(t, md).Contains("_No open findings._")
	})

	t.Run("Table cells are sanitized", func(t *testing.T) {
		repo := repository.NewMemory()
		finding := seedFinding(t, repo, "B604", types.SeverityMedium, false)
		finding.Title = "pipe | and\nnewline"
		gt.NoError(t, repo.PutFinding(ctx, finding))

		svc := report.New(repo)
		data, err := svc.Collect(ctx, time.Now())
		gt.NoError(t, err).Required()

		md := report.RenderMarkdown(data)
		gt.S(t, md).Contains("pipe \\| and newline")
	})
}

func TestRenderJSON(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedFinding(t, repo, "B603", types.SeverityMedium, false)
	seedFinding(t, repo, "B404", types.SeverityLow, true)

	svc := report.New(repo)
	data, err := svc.Collect(ctx, time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC))
	gt.NoError(t, err).Required()

	out, err := report.RenderJSON(data)
	gt.NoError(t, err).Required()

	var decoded struct {
		OpenFindings  []json.RawMessage `json:"openFindings"`
		ResolvedCount int               `json:"resolvedCount"`
	}
	gt.NoError(t, json.Unmarshal(out, &decoded))
	gt.Equal(t, len(decoded.OpenFindings), 1)
	gt.Equal(t, decoded.ResolvedCount, 1)
}

func TestRenderPDF(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedFinding(t, repo, "B603", types.SeverityMedium, false)
	seedFinding(t, repo, "B602", types.SeverityCritical, false)
	seedScan(t, repo, model.ScanError{Scanner: types.ScannerTrivy, Path: "trivy.json", Message: "broken"})

	svc := report.New(repo)
	data, err := svc.Collect(ctx, time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC))
	gt.NoError(t, err).Required()

	pdf, err := report.RenderPDF(data)
	gt.NoError(t, err).Required()

	gt.True(t, len(pdf) > 1000)
	gt.True(t, strings.HasPrefix(string(pdf), "%PDF"))
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		input    string
		expected report.Format
		wantErr  bool
	}{
		{input: "", expected: report.FormatMarkdown},
		{input: "markdown", expected: report.FormatMarkdown},
		{input: "md", expected: report.FormatMarkdown},
		{input: "json", expected: report.FormatJSON},
		{input: "PDF", expected: report.FormatPDF},
		{input: "xml", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run("Format "+tc.input, func(t *testing.T) {
			format, err := report.ParseFormat(tc.input)
			if tc.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, format, tc.expected)
		})
	}
}

func TestRender(t *testing.T) {
	data := &report.Data{
		GeneratedAt: time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC),
		Counts:      map[types.Severity]int{},
	}

	out, err := report.Render(data, report.FormatMarkdown)
	gt.NoError(t, err).Required()
	gt.S(t, string(out)).Contains("# Security Findings Report")

	_, err = report.Render(data, report.Format("yaml"))
	gt.Error(t, err)
}
