package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Format selects the report output format
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"
)

// ParseFormat parses a format name. Empty input defaults to Markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", goerr.New("unknown report format", goerr.V("format", s))
	}
}

// maxTableRows caps the open-findings table; the JSON report carries the rest
const maxTableRows = 30

// Data is the registry snapshot a report renders
type Data struct {
	GeneratedAt   time.Time              `json:"generatedAt"`
	OpenFindings  []*model.Finding       `json:"openFindings"`
	ResolvedCount int                    `json:"resolvedCount"`
	Counts        map[types.Severity]int `json:"counts"`
	LatestScan    *model.Scan            `json:"latestScan,omitempty"`
}

// Service assembles report data from the finding registry
type Service struct {
	repo interfaces.Repository
}

// New creates a report service
func New(repo interfaces.Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// Collect assembles the current registry snapshot. Open findings are ordered
// severity descending, then by ID, so reports are stable across runs.
func (s *Service) Collect(ctx context.Context, now time.Time) (*Data, error) {
	open, err := s.repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusOpen})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list open findings")
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].Severity.Rank() != open[j].Severity.Rank() {
			return open[i].Severity.Rank() > open[j].Severity.Rank()
		}
		return open[i].ID < open[j].ID
	})

	resolved, err := s.repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusResolved})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list resolved findings")
	}

	counts := make(map[types.Severity]int)
	for _, finding := range open {
		counts[finding.Severity]++
	}

	data := &Data{
		GeneratedAt:   now,
		OpenFindings:  open,
		ResolvedCount: len(resolved),
		Counts:        counts,
	}

	latest, err := s.repo.GetLatestScan(ctx)
	switch {
	case err == nil:
		data.LatestScan = latest
	case errors.Is(err, model.ErrScanNotFound):
		// No scan ingested yet; the report still covers the registry
	default:
		return nil, goerr.Wrap(err, "failed to get latest scan")
	}

	return data, nil
}

// Render renders the snapshot in the requested format
func Render(data *Data, format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(RenderMarkdown(data)), nil
	case FormatJSON:
		return RenderJSON(data)
	case FormatPDF:
		return RenderPDF(data)
	default:
		return nil, goerr.New("unknown report format", goerr.V("format", format))
	}
}

// RenderJSON renders the snapshot as indented JSON
func RenderJSON(data *Data) ([]byte, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal report")
	}
	return out, nil
}

// RenderMarkdown renders the snapshot as a Markdown report
func RenderMarkdown(data *Data) string {
	var sb strings.Builder

	sb.WriteString("# Security Findings Report\n\n")
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n", data.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	if scan := data.LatestScan; scan != nil {
		sb.WriteString(fmt.Sprintf("**Target:** `%s`\n", scan.Package))
		sb.WriteString(fmt.Sprintf("**Last scan:** %s (%s)\n",
			scan.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
			strings.Join(scannerNames(scan), ", ")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Severity | Open |\n")
	sb.WriteString("| :--- | :--- |\n")
	severities := types.Severities()
	for i := len(severities) - 1; i >= 0; i-- {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", severities[i], data.Counts[severities[i]]))
	}
	sb.WriteString(fmt.Sprintf("\n%d open, %d resolved\n\n", len(data.OpenFindings), data.ResolvedCount))

	sb.WriteString("## Open Findings\n\n")
	if len(data.OpenFindings) == 0 {
		sb.WriteString("_No open findings._\n")
	} else {
		sb.WriteString("| Severity | ID | Package | Location | Fixed | Title |\n")
		sb.WriteString("| :--- | :--- | :--- | :--- | :--- | :--- |\n")

		limit := len(data.OpenFindings)
		if limit > maxTableRows {
			limit = maxTableRows
		}
		for _, f := range data.OpenFindings[:limit] {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
				f.Severity, f.ID, tableCell(f.Package), tableCell(f.Location),
				tableCell(f.FixedVersion), tableCell(f.Title)))
		}
		if len(data.OpenFindings) > maxTableRows {
			sb.WriteString(fmt.Sprintf("\n*...and %d more findings in the JSON report*\n", len(data.OpenFindings)-maxTableRows))
		}
	}

	// Per-scanner sections
	for _, scanner := range []types.ScannerName{types.ScannerBandit, types.ScannerPipAudit, types.ScannerGitleaks, types.ScannerTrivy} {
		var findings []*model.Finding
		for _, f := range data.OpenFindings {
			if f.Scanner == scanner {
				findings = append(findings, f)
			}
		}
		if len(findings) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "\n## %s Findings (%d)\n\n", scanner, len(findings))
		fmt.Fprintf(&sb, "| Severity | Rule | Package | Location |\n")
		fmt.Fprintf(&sb, "|---|---|---|---|\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				f.Severity, tableCell(f.RuleID), tableCell(f.Package), tableCell(f.Location))
		}
	}

	// Scan errors section
	if scan := data.LatestScan; scan != nil && scan.HasErrors() {
		fmt.Fprintf(&sb, "\n## Scanner Errors (%d)\n\n", len(scan.Errors))
		fmt.Fprintf(&sb, "> [!WARNING]\n")
		fmt.Fprintf(&sb, "> The following reports could not be processed in the last scan. Their findings were not updated.\n\n")

		fmt.Fprintf(&sb, "| Scanner | Path | Message |\n")
		fmt.Fprintf(&sb, "|---|---|---|\n")
		for _, e := range scan.Errors {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", e.Scanner, tableCell(e.Path), tableCell(e.Message))
		}
	}

	return sb.String()
}

// tableCell sanitizes a value for a Markdown table cell
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func scannerNames(scan *model.Scan) []string {
	names := make([]string, 0, len(scan.Scanners))
	for _, sc := range scan.Scanners {
		names = append(names, sc.String())
	}
	return names
}
