package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Color scheme for PDF reports
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorCritical    = [3]int{231, 76, 60}   // Red
	colorHigh        = [3]int{230, 126, 34}  // Orange
	colorMedium      = [3]int{241, 196, 15}  // Yellow
	colorLow         = [3]int{46, 204, 113}  // Green
	colorUnknown     = [3]int{127, 140, 141} // Gray
)

// severityColor returns the accent color for a severity level
func severityColor(sev types.Severity) [3]int {
	switch sev {
	case types.SeverityCritical:
		return colorCritical
	case types.SeverityHigh:
		return colorHigh
	case types.SeverityMedium:
		return colorMedium
	case types.SeverityLow:
		return colorLow
	default:
		return colorUnknown
	}
}

// RenderPDF renders the snapshot as a compact PDF: header, severity
// summary, open-findings table, and scanner errors
func RenderPDF(data *Data) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	writePDFHeader(pdf, data)
	writePDFSummary(pdf, data)
	writePDFFindingsTable(pdf, data)
	writePDFScanErrors(pdf, data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, goerr.Wrap(err, "failed to render PDF report")
	}
	return buf.Bytes(), nil
}

func writePDFHeader(pdf *fpdf.Fpdf, data *Data) {
	pageWidth, _ := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 12, "Security Findings Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.UTC().Format("January 2, 2006 15:04 UTC")), "", 1, "L", false, 0, "")
	if scan := data.LatestScan; scan != nil {
		lastScan := fmt.Sprintf("Target: %s    Last scan: %s",
			scan.Package,
			scan.StartedAt.UTC().Format("January 2, 2006 15:04 UTC"))
		pdf.CellFormat(0, 6, lastScan, "", 1, "L", false, 0, "")
	}

	pdf.Ln(4)
}

func writePDFSummary(pdf *fpdf.Fpdf, data *Data) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Open Findings by Severity", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	severities := types.Severities()
	colWidth := 170.0 / float64(len(severities))

	// Labels row, severity descending
	pdf.SetFont("Arial", "B", 9)
	for i := len(severities) - 1; i >= 0; i-- {
		color := severityColor(severities[i])
		pdf.SetTextColor(color[0], color[1], color[2])
		pdf.CellFormat(colWidth, 7, severities[i].String(), "0", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	// Counts row
	pdf.SetFont("Arial", "B", 18)
	for i := len(severities) - 1; i >= 0; i-- {
		color := severityColor(severities[i])
		pdf.SetTextColor(color[0], color[1], color[2])
		pdf.CellFormat(colWidth, 10, fmt.Sprintf("%d", data.Counts[severities[i]]), "0", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, fmt.Sprintf("%d open, %d resolved", len(data.OpenFindings), data.ResolvedCount), "", 1, "C", false, 0, "")
	pdf.Ln(4)
}

// findingColumns defines the table layout; widths sum to the printable width
var findingColumns = []struct {
	label string
	width float64
}{
	{"Severity", 20},
	{"ID", 38},
	{"Package", 28},
	{"Location", 46},
	{"Title", 38},
}

func writePDFFindingsTable(pdf *fpdf.Fpdf, data *Data) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Open Findings", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(data.OpenFindings) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No open findings.", "", 1, "L", false, 0, "")
		pdf.Ln(2)
		return
	}

	writeFindingsHeader(pdf)

	pdf.SetFont("Arial", "", 8)
	fill := false
	for _, finding := range data.OpenFindings {
		if pdf.GetY() > 260 {
			pdf.AddPage()
			writeFindingsHeader(pdf)
			pdf.SetFont("Arial", "", 8)
			fill = false
		}

		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		color := severityColor(finding.Severity)
		pdf.SetTextColor(color[0], color[1], color[2])
		pdf.CellFormat(findingColumns[0].width, 6, finding.Severity.String(), "1", 0, "L", fill, 0, "")

		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(findingColumns[1].width, 6, pdfCell(finding.ID.String(), 26), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(findingColumns[2].width, 6, pdfCell(finding.Package, 18), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(findingColumns[3].width, 6, pdfCell(finding.Location, 32), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(findingColumns[4].width, 6, pdfCell(finding.Title, 26), "1", 1, "L", fill, 0, "")

		fill = !fill
	}
	pdf.Ln(4)
}

func writeFindingsHeader(pdf *fpdf.Fpdf) {
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 8)
	for i, col := range findingColumns {
		lineBreak := 0
		if i == len(findingColumns)-1 {
			lineBreak = 1
		}
		pdf.CellFormat(col.width, 7, col.label, "1", lineBreak, "C", true, 0, "")
	}
}

func writePDFScanErrors(pdf *fpdf.Fpdf, data *Data) {
	scan := data.LatestScan
	if scan == nil || !scan.HasErrors() {
		return
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorCritical[0], colorCritical[1], colorCritical[2])
	pdf.CellFormat(0, 8, fmt.Sprintf("Scanner Errors (%d)", len(scan.Errors)), "", 1, "L", false, 0, "")
	pdf.Ln(1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for _, e := range scan.Errors {
		name := e.Scanner.String()
		if name == "" {
			name = e.Path
		}
		pdf.CellFormat(0, 6, pdfCell(fmt.Sprintf("%s: %s", name, e.Message), 100), "", 1, "L", false, 0, "")
	}
}

// pdfCell truncates a value to fit a fixed-width table cell
func pdfCell(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
