package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/scanner"
	"github.com/secmon-lab/harrier/pkg/utils/apperr"
	"github.com/secmon-lab/harrier/pkg/utils/async"
	"golang.org/x/sync/errgroup"
)

// defaultParseWorkers bounds concurrent report parsing
const defaultParseWorkers = 4

// IngestOption is a functional option for configuring IngestUseCase
type IngestOption func(*IngestUseCase)

// WithPolicy sets the scan policy (fail threshold, suppression rules)
func WithPolicy(policy *model.Policy) IngestOption {
	return func(u *IngestUseCase) {
		if policy != nil {
			u.policy = policy
		}
	}
}

// WithChangelog sets the changelog writer appended to after each scan
func WithChangelog(w interfaces.ChangelogWriter) IngestOption {
	return func(u *IngestUseCase) {
		u.changelog = w
	}
}

// WithNotifier sets the notifier invoked after each scan
func WithNotifier(n interfaces.Notifier) IngestOption {
	return func(u *IngestUseCase) {
		u.notifier = n
	}
}

// WithTriager sets the LLM triager for newly discovered findings
func WithTriager(tr interfaces.Triager) IngestOption {
	return func(u *IngestUseCase) {
		u.triager = tr
	}
}

// WithParseWorkers overrides the report parse concurrency limit
func WithParseWorkers(n int) IngestOption {
	return func(u *IngestUseCase) {
		if n > 0 {
			u.workers = n
		}
	}
}

// IngestUseCase implements the Ingest interface
type IngestUseCase struct {
	repo      interfaces.Repository
	policy    *model.Policy
	changelog interfaces.ChangelogWriter
	notifier  interfaces.Notifier
	triager   interfaces.Triager
	workers   int
	bg        sync.WaitGroup
}

var _ interfaces.Ingest = (*IngestUseCase)(nil)

// NewIngest creates a new IngestUseCase instance
func NewIngest(repo interfaces.Repository, opts ...IngestOption) *IngestUseCase {
	u := &IngestUseCase{
		repo:    repo,
		policy:  model.DefaultPolicy(),
		workers: defaultParseWorkers,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Policy returns the effective scan policy
func (u *IngestUseCase) Policy() *model.Policy {
	return u.policy
}

// Wait blocks until dispatched background work has finished. Short-lived
// callers drain before exiting so notifications are not lost.
func (u *IngestUseCase) Wait() {
	u.bg.Wait()
}

// parsedReport is the outcome of parsing one raw report
type parsedReport struct {
	scanner  types.ScannerName
	findings []*model.Finding
	failure  *model.ScanError
}

// diffResult classifies one scan batch against the stored registry
type diffResult struct {
	discovered []*model.Finding
	reopened   []*model.Finding
	resolved   []*model.Finding
	unchanged  []*model.Finding
}

// Ingest runs the full pipeline for one batch of scanner reports: parse,
// dedupe, suppress, diff against the registry, persist findings, events and
// the scan record, then feed the changelog, notifier and metrics.
func (u *IngestUseCase) Ingest(ctx context.Context, req *interfaces.IngestRequest) (*interfaces.IngestResult, error) {
	started := time.Now()

	if req == nil {
		return nil, goerr.New("ingest request is nil")
	}
	if req.Package == "" {
		return nil, goerr.New("target package is required")
	}
	if len(req.Reports) == 0 && len(req.Errors) == 0 {
		return nil, goerr.New("no reports to ingest")
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = started
	}

	scan, err := model.NewScan(req.Package, ts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create scan record")
	}
	scan.Errors = append(scan.Errors, req.Errors...)

	// Parse reports concurrently; a parse failure becomes a ScanError on
	// the scan, not a pipeline error
	parsed := u.parseReports(req)

	batch := make(map[types.FindingID]*model.Finding)
	for _, pr := range parsed {
		if pr.failure != nil {
			scan.Errors = append(scan.Errors, *pr.failure)
			continue
		}
		scan.AddScanner(pr.scanner)
		for _, f := range pr.findings {
			if current, ok := batch[f.ID]; ok {
				// In-batch duplicate: keep the higher severity
				if f.Severity.Rank() > current.Severity.Rank() {
					batch[f.ID] = f
				}
				continue
			}
			batch[f.ID] = f
		}
	}
	scan.Stats.Total = len(batch)

	// Policy suppression: matched findings are logged and dropped before
	// diffing, so they are never stored and never generate events
	for id, f := range batch {
		if rule := u.policy.Match(f); rule != nil {
			scan.Stats.Suppressed++
			ctxlog.From(ctx).Info("Finding suppressed by policy",
				"findingID", f.ID,
				"rule", f.RuleID,
				"reason", rule.Reason,
			)
			delete(batch, id)
		}
	}

	// Scanners that failed to run or parse never resolve their findings
	errored := make(map[types.ScannerName]bool)
	for _, se := range scan.Errors {
		if se.Scanner != "" {
			errored[se.Scanner] = true
		}
	}

	byScanner := make(map[types.ScannerName][]*model.Finding)
	for _, f := range batch {
		byScanner[f.Scanner] = append(byScanner[f.Scanner], f)
	}

	all := &diffResult{}
	for _, sc := range scan.Scanners {
		if errored[sc] {
			continue
		}
		incoming := byScanner[sc]
		sortByID(incoming)

		result, err := u.diffScanner(ctx, sc, incoming, ts, scan.ID)
		if err != nil {
			return nil, err
		}
		all.discovered = append(all.discovered, result.discovered...)
		all.reopened = append(all.reopened, result.reopened...)
		all.resolved = append(all.resolved, result.resolved...)
		all.unchanged = append(all.unchanged, result.unchanged...)
	}

	// Annotate newly discovered findings before their events are written
	// so the note lands in the changelog entry
	u.triageFindings(ctx, all.discovered)

	events, err := buildEvents(all, scan.ID, ts)
	if err != nil {
		return nil, err
	}

	scan.Stats.Discovered = len(all.discovered)
	scan.Stats.Reopened = len(all.reopened)
	scan.Stats.Resolved = len(all.resolved)
	scan.Stats.Unchanged = len(all.unchanged)
	if req.Duration > 0 {
		scan.Duration = req.Duration
	} else {
		scan.Duration = time.Since(started)
	}

	// Persist findings first, then the scan, then events: a stored event
	// must never reference a finding or scan that is not stored
	for _, list := range [][]*model.Finding{all.discovered, all.reopened, all.unchanged, all.resolved} {
		for _, f := range list {
			if err := u.repo.PutFinding(ctx, f); err != nil {
				return nil, goerr.Wrap(err, "failed to store finding",
					goerr.V("findingID", f.ID))
			}
		}
	}
	if err := u.repo.PutScan(ctx, scan); err != nil {
		return nil, goerr.Wrap(err, "failed to store scan",
			goerr.V("scanID", scan.ID))
	}
	for _, ev := range events {
		if err := u.repo.PutEvent(ctx, ev); err != nil {
			return nil, goerr.Wrap(err, "failed to store event",
				goerr.V("eventID", ev.ID),
				goerr.V("findingID", ev.FindingID))
		}
	}

	if u.changelog != nil && len(events) > 0 {
		if err := u.changelog.Append(ctx, events); err != nil {
			return nil, goerr.Wrap(err, "failed to append changelog",
				goerr.V("scanID", scan.ID))
		}
	}

	if u.notifier != nil {
		// Notification runs in the background so ingestion does not wait
		// on Slack; its failure never fails the scan
		async.DispatchTracked(ctx, &u.bg, func(ctx context.Context) error {
			return u.notifier.NotifyScan(ctx, scan, events)
		})
	}

	recordScan(scan)
	recordEvents(events)
	u.refreshOpenFindingsGauge(ctx)

	ctxlog.From(ctx).Info("Scan ingested",
		"scanID", scan.ID,
		"package", scan.Package,
		"scanners", scan.Scanners,
		"total", scan.Stats.Total,
		"suppressed", scan.Stats.Suppressed,
		"discovered", scan.Stats.Discovered,
		"reopened", scan.Stats.Reopened,
		"resolved", scan.Stats.Resolved,
		"unchanged", scan.Stats.Unchanged,
		"errors", len(scan.Errors),
	)

	return &interfaces.IngestResult{Scan: scan, Events: events}, nil
}

// parseReports parses all reports of the request with bounded concurrency
func (u *IngestUseCase) parseReports(req *interfaces.IngestRequest) []parsedReport {
	results := make([]parsedReport, len(req.Reports))

	var g errgroup.Group
	g.SetLimit(u.workers)
	for i, report := range req.Reports {
		g.Go(func() error {
			results[i] = parseReport(report, req.Package)
			return nil
		})
	}
	// Workers never return errors; parse failures land in results
	_ = g.Wait()

	return results
}

// parseReport resolves a parser for one report and runs it
func parseReport(report interfaces.ReportInput, pkg string) parsedReport {
	var (
		p   scanner.Parser
		err error
	)
	if report.Scanner != "" {
		p, err = scanner.ByName(report.Scanner)
		if err == nil && !p.Detect(report.Data) {
			// A mismatched report would parse to zero findings and
			// resolve everything the scanner knows
			err = goerr.New("report does not match the pinned scanner format",
				goerr.V("scanner", report.Scanner))
		}
	} else {
		p, err = scanner.Detect(report.Data)
	}
	if err != nil {
		return parsedReport{failure: &model.ScanError{
			Scanner: report.Scanner,
			Path:    report.Path,
			Message: err.Error(),
		}}
	}

	findings, err := p.Parse(report.Data, pkg)
	if err != nil {
		return parsedReport{failure: &model.ScanError{
			Scanner: p.Name(),
			Path:    report.Path,
			Message: err.Error(),
		}}
	}

	return parsedReport{scanner: p.Name(), findings: findings}
}

// diffScanner compares one scanner's incoming findings against its stored
// open findings and classifies every transition
func (u *IngestUseCase) diffScanner(ctx context.Context, sc types.ScannerName, incoming []*model.Finding, ts time.Time, scanID types.ScanID) (*diffResult, error) {
	known, err := u.repo.ListOpenFindingsByScanner(ctx, sc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list open findings",
			goerr.V("scanner", sc))
	}
	knownByID := make(map[types.FindingID]*model.Finding, len(known))
	for _, f := range known {
		knownByID[f.ID] = f
	}

	out := &diffResult{}
	for _, f := range incoming {
		if current, ok := knownByID[f.ID]; ok {
			// Seen again: refresh the stored finding without an event.
			// Severity drift updates the record but is not a lifecycle
			// transition.
			current.Touch(ts, scanID)
			refreshFinding(current, f)
			out.unchanged = append(out.unchanged, current)
			delete(knownByID, f.ID)
			continue
		}

		previous, err := u.repo.GetFinding(ctx, f.ID)
		switch {
		case err == nil && !previous.IsOpen():
			// Known but resolved earlier: the issue came back
			refreshFinding(previous, f)
			if err := previous.Reopen(ts, scanID); err != nil {
				return nil, goerr.Wrap(err, "failed to reopen finding",
					goerr.V("findingID", f.ID))
			}
			out.reopened = append(out.reopened, previous)
		case err == nil:
			// Stored open but missing from the open-findings snapshot;
			// treat as seen again
			previous.Touch(ts, scanID)
			refreshFinding(previous, f)
			out.unchanged = append(out.unchanged, previous)
		case errors.Is(err, model.ErrFindingNotFound):
			f.Status = types.FindingStatusOpen
			f.FirstSeenAt = ts
			f.LastSeenAt = ts
			f.LastScanID = scanID
			out.discovered = append(out.discovered, f)
		default:
			return nil, goerr.Wrap(err, "failed to look up finding",
				goerr.V("findingID", f.ID))
		}
	}

	// Open findings absent from a successfully parsed report are resolved
	for _, leftover := range knownByID {
		if err := leftover.Resolve(ts, scanID); err != nil {
			return nil, goerr.Wrap(err, "failed to resolve finding",
				goerr.V("findingID", leftover.ID))
		}
		out.resolved = append(out.resolved, leftover)
	}
	sortByID(out.resolved)

	return out, nil
}

// triageFindings annotates discovered findings with LLM assessments.
// Triage is best effort: a failed call is logged and skipped.
func (u *IngestUseCase) triageFindings(ctx context.Context, findings []*model.Finding) {
	if u.triager == nil {
		return
	}

	for _, f := range findings {
		result, err := u.triager.TriageFinding(ctx, f)
		if err != nil {
			apperr.Handle(ctx, goerr.Wrap(err, "triage failed",
				goerr.V("findingID", f.ID)))
			continue
		}
		if result == nil {
			continue
		}
		if note := result.Note(); note != "" {
			f.Notes = note
		}
	}
}

// buildEvents creates lifecycle events for one diffed batch
func buildEvents(all *diffResult, scanID types.ScanID, ts time.Time) ([]*model.FindingEvent, error) {
	events := make([]*model.FindingEvent, 0, len(all.discovered)+len(all.reopened)+len(all.resolved))

	add := func(f *model.Finding, eventType types.EventType, notes string) error {
		ev, err := model.NewFindingEvent(f, eventType, scanID, ts, notes)
		if err != nil {
			return goerr.Wrap(err, "failed to create event",
				goerr.V("findingID", f.ID),
				goerr.V("type", eventType))
		}
		events = append(events, ev)
		return nil
	}

	for _, f := range all.discovered {
		notes := f.Notes
		if notes == "" {
			notes = f.Description
		}
		if err := add(f, types.EventTypeDiscovered, notes); err != nil {
			return nil, err
		}
	}
	for _, f := range all.reopened {
		if err := add(f, types.EventTypeReopened, "Reappeared in latest "+f.Scanner.String()+" report"); err != nil {
			return nil, err
		}
	}
	for _, f := range all.resolved {
		if err := add(f, types.EventTypeResolved, "No longer reported by "+f.Scanner.String()); err != nil {
			return nil, err
		}
	}

	return events, nil
}

// refreshFinding copies report-derived display fields from the latest parse
// onto the stored finding. Identity fields are equal by construction of the
// finding ID, and Notes survive re-scans.
func refreshFinding(stored, latest *model.Finding) {
	stored.Severity = latest.Severity
	stored.Title = latest.Title
	stored.Description = latest.Description
	stored.Location = latest.Location
	stored.FixedVersion = latest.FixedVersion
	stored.URL = latest.URL
	if len(latest.Metadata) > 0 {
		stored.Metadata = latest.Metadata
	}
}

// sortByID orders findings by ID for deterministic event and storage order
func sortByID(findings []*model.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].ID < findings[j].ID
	})
}
