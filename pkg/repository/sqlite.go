package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	scanner TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	package TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	fixed_version TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	first_seen_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	resolved_at TEXT,
	last_scan_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_findings_scanner_status ON findings(scanner, status);
CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(status);

CREATE TABLE IF NOT EXISTS finding_events (
	id TEXT PRIMARY KEY,
	finding_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	scanner TEXT NOT NULL,
	package TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	scan_id TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_finding_events_finding ON finding_events(finding_id);
CREATE INDEX IF NOT EXISTS idx_finding_events_occurred ON finding_events(occurred_at);

CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	package TEXT NOT NULL DEFAULT '',
	scanners TEXT NOT NULL DEFAULT '[]',
	started_at TEXT NOT NULL,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	stats TEXT NOT NULL DEFAULT '{}',
	errors TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);
`

// SQLite implements Repository interface with a local SQLite database
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens or creates a SQLite repository at the given path
func NewSQLite(ctx context.Context, path string) (interfaces.Repository, error) {
	logger := ctxlog.From(ctx)

	if path == "" {
		return nil, goerr.New("sqlite database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, goerr.Wrap(err, "failed to create sqlite directory", goerr.V("dir", dir))
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	// modernc.org/sqlite serializes writes; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize sqlite schema", goerr.V("path", path))
	}

	logger.Info("SQLite repository initialized successfully", "path", path)

	return &SQLite{db: db, path: path}, nil
}

// PutFinding inserts or updates a finding
func (s *SQLite) PutFinding(ctx context.Context, finding *model.Finding) error {
	if finding == nil {
		return goerr.New("finding is nil")
	}
	if err := finding.Validate(); err != nil {
		return goerr.Wrap(err, "invalid finding")
	}

	metadata := []byte("{}")
	if len(finding.Metadata) > 0 {
		encoded, err := json.Marshal(finding.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to encode finding metadata")
		}
		metadata = encoded
	}

	var resolvedAt sql.NullString
	if finding.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: encodeTime(*finding.ResolvedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (
			id, scanner, rule_id, package, location, title, description,
			severity, status, fixed_version, url, notes,
			first_seen_at, last_seen_at, resolved_at, last_scan_id, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scanner=excluded.scanner,
			rule_id=excluded.rule_id,
			package=excluded.package,
			location=excluded.location,
			title=excluded.title,
			description=excluded.description,
			severity=excluded.severity,
			status=excluded.status,
			fixed_version=excluded.fixed_version,
			url=excluded.url,
			notes=excluded.notes,
			first_seen_at=excluded.first_seen_at,
			last_seen_at=excluded.last_seen_at,
			resolved_at=excluded.resolved_at,
			last_scan_id=excluded.last_scan_id,
			metadata=excluded.metadata
	`,
		finding.ID.String(), finding.Scanner.String(), finding.RuleID, finding.Package,
		finding.Location, finding.Title, finding.Description,
		finding.Severity.String(), finding.Status.String(), finding.FixedVersion,
		finding.URL, finding.Notes,
		encodeTime(finding.FirstSeenAt), encodeTime(finding.LastSeenAt), resolvedAt,
		finding.LastScanID.String(), string(metadata),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert finding", goerr.V("findingID", finding.ID))
	}

	return nil
}

// GetFinding retrieves a finding by ID
func (s *SQLite) GetFinding(ctx context.Context, id types.FindingID) (*model.Finding, error) {
	if id == "" {
		return nil, goerr.New("finding ID is empty")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, scanner, rule_id, package, location, title, description,
			severity, status, fixed_version, url, notes,
			first_seen_at, last_seen_at, resolved_at, last_scan_id, metadata
		FROM findings WHERE id = ?
	`, id.String())

	finding, err := scanFindingRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrFindingNotFound, "failed to get finding", goerr.V("findingID", id))
		}
		return nil, goerr.Wrap(err, "failed to get finding from sqlite", goerr.V("findingID", id))
	}

	return finding, nil
}

// ListFindings lists findings matching the filter
func (s *SQLite) ListFindings(ctx context.Context, filter interfaces.FindingFilter) ([]*model.Finding, error) {
	query := `
		SELECT id, scanner, rule_id, package, location, title, description,
			severity, status, fixed_version, url, notes,
			first_seen_at, last_seen_at, resolved_at, last_scan_id, metadata
		FROM findings WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status.String())
	}
	if filter.Scanner != "" {
		query += " AND scanner = ?"
		args = append(args, filter.Scanner.String())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query findings")
	}
	defer rows.Close()

	findings := make([]*model.Finding, 0)
	for rows.Next() {
		finding, err := scanFindingRow(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan finding row")
		}
		// Severity ranking is not expressible as a column comparison
		if !filter.Matches(finding) {
			continue
		}
		findings = append(findings, finding)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate finding rows")
	}

	sortFindings(findings)
	return findings, nil
}

// ListOpenFindingsByScanner lists open findings recorded by a scanner
func (s *SQLite) ListOpenFindingsByScanner(ctx context.Context, scanner types.ScannerName) ([]*model.Finding, error) {
	if scanner == "" {
		return nil, goerr.New("scanner name is empty")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scanner, rule_id, package, location, title, description,
			severity, status, fixed_version, url, notes,
			first_seen_at, last_seen_at, resolved_at, last_scan_id, metadata
		FROM findings WHERE scanner = ? AND status = ? ORDER BY id
	`, scanner.String(), types.FindingStatusOpen.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query open findings", goerr.V("scanner", scanner))
	}
	defer rows.Close()

	findings := make([]*model.Finding, 0)
	for rows.Next() {
		finding, err := scanFindingRow(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan finding row")
		}
		findings = append(findings, finding)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate finding rows")
	}

	return findings, nil
}

// PutEvent inserts a finding event
func (s *SQLite) PutEvent(ctx context.Context, event *model.FindingEvent) error {
	if event == nil {
		return goerr.New("event is nil")
	}
	if err := event.Validate(); err != nil {
		return goerr.Wrap(err, "invalid event")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finding_events (
			id, finding_id, event_type, scanner, package, severity,
			source, notes, scan_id, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID.String(), event.FindingID.String(), event.Type.String(),
		event.Scanner.String(), event.Package, event.Severity.String(),
		event.Source, event.Notes, event.ScanID.String(), encodeTime(event.OccurredAt),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert event", goerr.V("eventID", event.ID))
	}

	return nil
}

// ListEventsByFinding retrieves all events for a finding (oldest first)
func (s *SQLite) ListEventsByFinding(ctx context.Context, findingID types.FindingID) ([]*model.FindingEvent, error) {
	if findingID == "" {
		return nil, goerr.New("finding ID is empty")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, finding_id, event_type, scanner, package, severity,
			source, notes, scan_id, occurred_at
		FROM finding_events WHERE finding_id = ? ORDER BY occurred_at, id
	`, findingID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events", goerr.V("findingID", findingID))
	}
	defer rows.Close()

	events := make([]*model.FindingEvent, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan event row")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate event rows")
	}

	return events, nil
}

// ListEventsSince retrieves events that occurred at or after the specified time (newest first)
func (s *SQLite) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*model.FindingEvent, error) {
	query := `
		SELECT id, finding_id, event_type, scanner, package, severity,
			source, notes, scan_id, occurred_at
		FROM finding_events WHERE occurred_at >= ? ORDER BY occurred_at DESC, id DESC`
	args := []any{encodeTime(since)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events since", goerr.V("since", since))
	}
	defer rows.Close()

	events := make([]*model.FindingEvent, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan event row")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate event rows")
	}

	return events, nil
}

// PutScan inserts or updates a scan record
func (s *SQLite) PutScan(ctx context.Context, scan *model.Scan) error {
	if scan == nil {
		return goerr.New("scan is nil")
	}
	if err := scan.Validate(); err != nil {
		return goerr.Wrap(err, "invalid scan")
	}

	scanners, err := json.Marshal(scan.Scanners)
	if err != nil {
		return goerr.Wrap(err, "failed to encode scan scanners")
	}
	stats, err := json.Marshal(scan.Stats)
	if err != nil {
		return goerr.Wrap(err, "failed to encode scan stats")
	}
	scanErrors, err := json.Marshal(scan.Errors)
	if err != nil {
		return goerr.Wrap(err, "failed to encode scan errors")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, package, scanners, started_at, duration_ns, stats, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			package=excluded.package,
			scanners=excluded.scanners,
			started_at=excluded.started_at,
			duration_ns=excluded.duration_ns,
			stats=excluded.stats,
			errors=excluded.errors
	`,
		scan.ID.String(), scan.Package, string(scanners),
		encodeTime(scan.StartedAt), int64(scan.Duration), string(stats), string(scanErrors),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert scan", goerr.V("scanID", scan.ID))
	}

	return nil
}

// GetScan retrieves a scan by ID
func (s *SQLite) GetScan(ctx context.Context, id types.ScanID) (*model.Scan, error) {
	if id == "" {
		return nil, goerr.New("scan ID is empty")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, package, scanners, started_at, duration_ns, stats, errors
		FROM scans WHERE id = ?
	`, id.String())

	scan, err := scanScanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrScanNotFound, "failed to get scan", goerr.V("scanID", id))
		}
		return nil, goerr.Wrap(err, "failed to get scan from sqlite", goerr.V("scanID", id))
	}

	return scan, nil
}

// ListScans retrieves scan records (newest first)
func (s *SQLite) ListScans(ctx context.Context, limit int) ([]*model.Scan, error) {
	query := `
		SELECT id, package, scanners, started_at, duration_ns, stats, errors
		FROM scans ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query scans")
	}
	defer rows.Close()

	scans := make([]*model.Scan, 0)
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan scan row")
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate scan rows")
	}

	return scans, nil
}

// GetLatestScan retrieves the most recent scan record
func (s *SQLite) GetLatestScan(ctx context.Context) (*model.Scan, error) {
	scans, err := s.ListScans(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, goerr.Wrap(model.ErrScanNotFound, "no scans recorded")
	}
	return scans[0], nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return goerr.Wrap(err, "failed to close sqlite database", goerr.V("path", s.path))
		}
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFindingRow(row rowScanner) (*model.Finding, error) {
	var f model.Finding
	var firstSeen, lastSeen, metadata string
	var resolvedAt sql.NullString

	if err := row.Scan(
		&f.ID, &f.Scanner, &f.RuleID, &f.Package, &f.Location, &f.Title, &f.Description,
		&f.Severity, &f.Status, &f.FixedVersion, &f.URL, &f.Notes,
		&firstSeen, &lastSeen, &resolvedAt, &f.LastScanID, &metadata,
	); err != nil {
		return nil, err
	}

	var err error
	if f.FirstSeenAt, err = decodeTime(firstSeen); err != nil {
		return nil, goerr.Wrap(err, "failed to decode first_seen_at")
	}
	if f.LastSeenAt, err = decodeTime(lastSeen); err != nil {
		return nil, goerr.Wrap(err, "failed to decode last_seen_at")
	}
	if resolvedAt.Valid {
		t, err := decodeTime(resolvedAt.String)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode resolved_at")
		}
		f.ResolvedAt = &t
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &f.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to decode finding metadata")
		}
	}

	return &f, nil
}

func scanEventRow(row rowScanner) (*model.FindingEvent, error) {
	var e model.FindingEvent
	var occurredAt string

	if err := row.Scan(
		&e.ID, &e.FindingID, &e.Type, &e.Scanner, &e.Package, &e.Severity,
		&e.Source, &e.Notes, &e.ScanID, &occurredAt,
	); err != nil {
		return nil, err
	}

	var err error
	if e.OccurredAt, err = decodeTime(occurredAt); err != nil {
		return nil, goerr.Wrap(err, "failed to decode occurred_at")
	}

	return &e, nil
}

func scanScanRow(row rowScanner) (*model.Scan, error) {
	var s model.Scan
	var scanners, startedAt, stats, scanErrors string
	var durationNS int64

	if err := row.Scan(&s.ID, &s.Package, &scanners, &startedAt, &durationNS, &stats, &scanErrors); err != nil {
		return nil, err
	}

	s.Duration = time.Duration(durationNS)

	var err error
	if s.StartedAt, err = decodeTime(startedAt); err != nil {
		return nil, goerr.Wrap(err, "failed to decode started_at")
	}
	if err := json.Unmarshal([]byte(scanners), &s.Scanners); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scan scanners")
	}
	if err := json.Unmarshal([]byte(stats), &s.Stats); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scan stats")
	}
	if err := json.Unmarshal([]byte(scanErrors), &s.Errors); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scan errors")
	}

	return &s, nil
}

// sqliteTimeLayout is RFC3339 with a fixed-width fraction. RFC3339Nano trims
// trailing zeros, which breaks lexical ordering of the stored strings.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// encodeTime stores times in UTC so lexical order matches time order
func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var _ interfaces.Repository = (*SQLite)(nil) // Compile-time interface check
