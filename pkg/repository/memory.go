package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Memory implements Repository interface with in-memory storage
type Memory struct {
	mu       sync.RWMutex
	findings map[types.FindingID]*model.Finding
	events   map[types.FindingID][]*model.FindingEvent
	scans    map[types.ScanID]*model.Scan
}

// NewMemory creates a new memory repository
func NewMemory() interfaces.Repository {
	return &Memory{
		findings: make(map[types.FindingID]*model.Finding),
		events:   make(map[types.FindingID][]*model.FindingEvent),
		scans:    make(map[types.ScanID]*model.Scan),
	}
}

// PutFinding saves a finding to memory
func (m *Memory) PutFinding(ctx context.Context, finding *model.Finding) error {
	if finding == nil {
		return goerr.New("finding is nil")
	}
	if err := finding.Validate(); err != nil {
		return goerr.Wrap(err, "invalid finding")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Deep copy to prevent external modifications
	findingCopy := *finding
	m.findings[finding.ID] = &findingCopy

	return nil
}

// GetFinding retrieves a finding by ID
func (m *Memory) GetFinding(ctx context.Context, id types.FindingID) (*model.Finding, error) {
	if id == "" {
		return nil, goerr.New("finding ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	finding, exists := m.findings[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrFindingNotFound, "failed to get finding", goerr.V("findingID", id))
	}

	// Return a copy to prevent external modifications
	findingCopy := *finding
	return &findingCopy, nil
}

// ListFindings lists findings matching the filter
func (m *Memory) ListFindings(ctx context.Context, filter interfaces.FindingFilter) ([]*model.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	findings := make([]*model.Finding, 0, len(m.findings))
	for _, finding := range m.findings {
		if !filter.Matches(finding) {
			continue
		}
		findingCopy := *finding
		findings = append(findings, &findingCopy)
	}

	sortFindings(findings)
	return findings, nil
}

// ListOpenFindingsByScanner lists open findings recorded by a scanner
func (m *Memory) ListOpenFindingsByScanner(ctx context.Context, scanner types.ScannerName) ([]*model.Finding, error) {
	if scanner == "" {
		return nil, goerr.New("scanner name is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	findings := make([]*model.Finding, 0)
	for _, finding := range m.findings {
		if finding.Scanner == scanner && finding.IsOpen() {
			findingCopy := *finding
			findings = append(findings, &findingCopy)
		}
	}

	// Sort by ID for deterministic order
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].ID < findings[j].ID
	})

	return findings, nil
}

// PutEvent saves a finding event to memory
func (m *Memory) PutEvent(ctx context.Context, event *model.FindingEvent) error {
	if event == nil {
		return goerr.New("event is nil")
	}
	if err := event.Validate(); err != nil {
		return goerr.Wrap(err, "invalid event")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	eventCopy := *event
	m.events[event.FindingID] = append(m.events[event.FindingID], &eventCopy)

	return nil
}

// ListEventsByFinding retrieves all events for a finding (oldest first)
func (m *Memory) ListEventsByFinding(ctx context.Context, findingID types.FindingID) ([]*model.FindingEvent, error) {
	if findingID == "" {
		return nil, goerr.New("finding ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	events, exists := m.events[findingID]
	if !exists {
		return []*model.FindingEvent{}, nil
	}

	result := make([]*model.FindingEvent, 0, len(events))
	for _, event := range events {
		eventCopy := *event
		result = append(result, &eventCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	return result, nil
}

// ListEventsSince retrieves events that occurred at or after the specified time (newest first)
func (m *Memory) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*model.FindingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.FindingEvent, 0)
	for _, events := range m.events {
		for _, event := range events {
			if event.OccurredAt.After(since) || event.OccurredAt.Equal(since) {
				eventCopy := *event
				result = append(result, &eventCopy)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// PutScan saves a scan record to memory
func (m *Memory) PutScan(ctx context.Context, scan *model.Scan) error {
	if scan == nil {
		return goerr.New("scan is nil")
	}
	if err := scan.Validate(); err != nil {
		return goerr.Wrap(err, "invalid scan")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scanCopy := *scan
	m.scans[scan.ID] = &scanCopy

	return nil
}

// GetScan retrieves a scan by ID
func (m *Memory) GetScan(ctx context.Context, id types.ScanID) (*model.Scan, error) {
	if id == "" {
		return nil, goerr.New("scan ID is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	scan, exists := m.scans[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrScanNotFound, "failed to get scan", goerr.V("scanID", id))
	}

	scanCopy := *scan
	return &scanCopy, nil
}

// ListScans retrieves scan records (newest first)
func (m *Memory) ListScans(ctx context.Context, limit int) ([]*model.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scans := make([]*model.Scan, 0, len(m.scans))
	for _, scan := range m.scans {
		scanCopy := *scan
		scans = append(scans, &scanCopy)
	}

	sort.Slice(scans, func(i, j int) bool {
		if scans[i].StartedAt.Equal(scans[j].StartedAt) {
			return scans[i].ID > scans[j].ID
		}
		return scans[i].StartedAt.After(scans[j].StartedAt)
	})

	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}

	return scans, nil
}

// GetLatestScan retrieves the most recent scan record
func (m *Memory) GetLatestScan(ctx context.Context) (*model.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *model.Scan
	for _, scan := range m.scans {
		if latest == nil || scan.StartedAt.After(latest.StartedAt) {
			latest = scan
		}
	}
	if latest == nil {
		return nil, goerr.Wrap(model.ErrScanNotFound, "no scans recorded")
	}

	scanCopy := *latest
	return &scanCopy, nil
}

// Close does nothing for memory repository
func (m *Memory) Close() error {
	return nil
}

// Clear clears all data (useful for testing)
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = make(map[types.FindingID]*model.Finding)
	m.events = make(map[types.FindingID][]*model.FindingEvent)
	m.scans = make(map[types.ScanID]*model.Scan)
}

// sortFindings orders findings by severity (highest first), then ID
func sortFindings(findings []*model.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].ID < findings[j].ID
	})
}

var _ interfaces.Repository = (*Memory)(nil) // Compile-time interface check
