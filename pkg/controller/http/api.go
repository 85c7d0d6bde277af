package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/service/changelog"
)

// maxUploadBytes caps the size of one scan ingestion request
const maxUploadBytes = 32 << 20

// defaultScanListLimit is applied when the scans listing has no limit param
const defaultScanListLimit = 20

// ingestReportBody is one raw scanner report in a JSON ingestion request.
// Data carries the report verbatim, so callers embed scanner output directly.
type ingestReportBody struct {
	Scanner string          `json:"scanner,omitempty"`
	Path    string          `json:"path,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// ingestScanBody is the JSON ingestion request
type ingestScanBody struct {
	Package string             `json:"package"`
	Reports []ingestReportBody `json:"reports"`
}

// ingestScanResponse is returned by POST /api/scans
type ingestScanResponse struct {
	Scan   *model.Scan           `json:"scan"`
	Events []*model.FindingEvent `json:"events"`
}

type listScansResponse struct {
	Scans []*model.Scan `json:"scans"`
	Count int           `json:"count"`
}

type listFindingsResponse struct {
	Findings []*model.Finding `json:"findings"`
	Count    int              `json:"count"`
}

type findingResponse struct {
	Finding *model.Finding        `json:"finding"`
	Events  []*model.FindingEvent `json:"events"`
}

type resolveFindingBody struct {
	Note string `json:"note"`
}

// handleIngestScan accepts one batch of raw scanner reports, as JSON or as a
// multipart form, and runs the ingestion pipeline on it
func (s *Server) handleIngestScan(w http.ResponseWriter, r *http.Request) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req *interfaces.IngestRequest
		err error
	)
	if contentType == "multipart/form-data" {
		req, err = ingestRequestFromMultipart(r)
	} else {
		req, err = ingestRequestFromJSON(r)
	}
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	result, err := s.ingestUC.Ingest(r.Context(), req)
	if err != nil {
		ctxlog.From(r.Context()).Error("Scan ingestion failed", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestScanResponse{
		Scan:   result.Scan,
		Events: result.Events,
	})
}

// ingestRequestFromJSON builds an ingestion request from a JSON body
func ingestRequestFromJSON(r *http.Request) (*interfaces.IngestRequest, error) {
	var body ingestScanBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scan request")
	}

	req := &interfaces.IngestRequest{Package: body.Package}
	for i, report := range body.Reports {
		scanner := types.ScannerName(report.Scanner)
		if report.Scanner != "" && !scanner.IsValid() {
			return nil, goerr.New("unknown scanner",
				goerr.V("scanner", report.Scanner))
		}
		if len(report.Data) == 0 {
			return nil, goerr.New("report data is empty",
				goerr.V("index", i))
		}
		req.Reports = append(req.Reports, interfaces.ReportInput{
			Path:    report.Path,
			Data:    report.Data,
			Scanner: scanner,
		})
	}

	return req, validateIngestRequest(req)
}

// ingestRequestFromMultipart builds an ingestion request from a multipart
// form. The target package comes from the "package" field; every file part
// is one report. A field named after a scanner pins that parser, any other
// field name leaves the report to format detection.
func ingestRequestFromMultipart(r *http.Request) (*interfaces.IngestRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, goerr.Wrap(err, "failed to parse multipart form")
	}

	req := &interfaces.IngestRequest{Package: r.FormValue("package")}
	for field, files := range r.MultipartForm.File {
		var scanner types.ScannerName
		if sc := types.ScannerName(field); sc.IsValid() {
			scanner = sc
		}
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to open uploaded report",
					goerr.V("filename", fh.Filename))
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read uploaded report",
					goerr.V("filename", fh.Filename))
			}
			req.Reports = append(req.Reports, interfaces.ReportInput{
				Path:    fh.Filename,
				Data:    data,
				Scanner: scanner,
			})
		}
	}

	return req, validateIngestRequest(req)
}

func validateIngestRequest(req *interfaces.IngestRequest) error {
	if req.Package == "" {
		return goerr.New("target package is required")
	}
	if len(req.Reports) == 0 {
		return goerr.New("no reports in request")
	}
	return nil
}

// handleListScans returns recorded scans, newest first
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultScanListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, goerr.New("invalid limit", goerr.V("limit", v)), http.StatusBadRequest)
			return
		}
		limit = n
	}

	scans, err := s.repo.ListScans(r.Context(), limit)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, listScansResponse{Scans: scans, Count: len(scans)})
}

// handleGetScan returns one scan record by ID
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := types.ScanID(chi.URLParam(r, "id"))

	scan, err := s.repo.GetScan(r.Context(), id)
	switch {
	case errors.Is(err, model.ErrScanNotFound):
		writeError(w, err, http.StatusNotFound)
	case err != nil:
		writeError(w, err, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, scan)
	}
}

// handleListFindings returns findings matching the status, scanner and
// severity query params. The severity param is a floor, not an exact match.
func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter interfaces.FindingFilter
	if v := q.Get("status"); v != "" {
		status := types.FindingStatus(v)
		if !status.IsValid() {
			writeError(w, goerr.New("invalid status", goerr.V("status", v)), http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if v := q.Get("scanner"); v != "" {
		scanner := types.ScannerName(v)
		if !scanner.IsValid() {
			writeError(w, goerr.New("unknown scanner", goerr.V("scanner", v)), http.StatusBadRequest)
			return
		}
		filter.Scanner = scanner
	}
	if v := q.Get("severity"); v != "" {
		severity, err := types.ParseSeverity(v)
		if err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		filter.MinSeverity = severity
	}

	findings, err := s.findingsUC.ListFindings(r.Context(), filter)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, listFindingsResponse{Findings: findings, Count: len(findings)})
}

// handleGetFinding returns one finding and its lifecycle history
func (s *Server) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	id := types.FindingID(chi.URLParam(r, "id"))

	finding, events, err := s.findingsUC.GetFindingWithEvents(r.Context(), id)
	switch {
	case errors.Is(err, model.ErrFindingNotFound):
		writeError(w, err, http.StatusNotFound)
	case err != nil:
		writeError(w, err, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, findingResponse{Finding: finding, Events: events})
	}
}

// handleResolveFinding closes a finding manually. The optional JSON body
// carries an accepted-risk note recorded on the resolution event.
func (s *Server) handleResolveFinding(w http.ResponseWriter, r *http.Request) {
	id := types.FindingID(chi.URLParam(r, "id"))

	var body resolveFindingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, goerr.Wrap(err, "failed to decode request body"), http.StatusBadRequest)
		return
	}

	finding, err := s.findingsUC.ResolveFinding(r.Context(), id, body.Note)
	switch {
	case errors.Is(err, model.ErrFindingNotFound):
		writeError(w, err, http.StatusNotFound)
	case errors.Is(err, model.ErrAlreadyResolved):
		writeError(w, err, http.StatusConflict)
	case err != nil:
		writeError(w, err, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, finding)
	}
}

// handleChangelog renders the full finding history as Markdown, matching the
// format of the changelog file
func (s *Server) handleChangelog(w http.ResponseWriter, r *http.Request) {
	events, err := s.repo.ListEventsSince(r.Context(), time.Time{}, 0)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	// The repository returns newest first; the changelog reads oldest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	var b strings.Builder
	b.WriteString(changelog.Header)
	if history := changelog.RenderHistory(events); history != "" {
		b.WriteString("\n")
		b.WriteString(history)
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(b.String())); err != nil {
		ctxlog.From(r.Context()).Error("Failed to write changelog response", "error", err)
	}
}
