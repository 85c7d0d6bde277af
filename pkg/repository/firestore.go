package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Collection names
	findingsCollection = "findings"
	eventsCollection   = "finding_events"
	scansCollection    = "scans"
)

// Firestore implements Repository interface with Firestore
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (interfaces.Repository, error) {
	logger := ctxlog.From(ctx)

	// Create client with database ID
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	// Test connection by attempting to read from a collection
	// This will fail fast if the project ID is invalid or if there are permission issues
	_, err = client.Collection(findingsCollection).Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		// Only fail if it's a real error (not just empty collection)
		if status.Code(err) == codes.PermissionDenied || status.Code(err) == codes.Unauthenticated {
			_ = client.Close()
			return nil, goerr.Wrap(err, "failed to connect to firestore project",
				goerr.V("firestore error code", status.Code(err).String()),
			)
		}
		// For other errors (like NotFound for new projects), log but continue
		logger.Debug("Firestore connection test returned error (may be empty collection)",
			"error", err,
			"errorCode", status.Code(err).String(),
		)
	}

	logger.Info("Firestore repository initialized successfully",
		"projectID", projectID,
		"databaseID", databaseID,
	)

	return &Firestore{
		client: client,
	}, nil
}

// PutFinding saves a finding to Firestore
func (f *Firestore) PutFinding(ctx context.Context, finding *model.Finding) error {
	if finding == nil {
		return goerr.New("finding is nil")
	}
	if err := finding.Validate(); err != nil {
		return goerr.Wrap(err, "invalid finding")
	}

	_, err := f.client.Collection(findingsCollection).Doc(finding.ID.String()).Set(ctx, finding)
	if err != nil {
		return goerr.Wrap(err, "failed to save finding to firestore", goerr.V("findingID", finding.ID))
	}

	return nil
}

// GetFinding retrieves a finding by ID
func (f *Firestore) GetFinding(ctx context.Context, id types.FindingID) (*model.Finding, error) {
	if id == "" {
		return nil, goerr.New("finding ID is empty")
	}

	doc, err := f.client.Collection(findingsCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrFindingNotFound, "failed to get finding", goerr.V("findingID", id))
		}
		return nil, goerr.Wrap(err, "failed to get finding from firestore", goerr.V("findingID", id))
	}

	var finding model.Finding
	if err := doc.DataTo(&finding); err != nil {
		return nil, goerr.Wrap(err, "failed to decode finding")
	}

	return &finding, nil
}

// ListFindings lists findings matching the filter
func (f *Firestore) ListFindings(ctx context.Context, filter interfaces.FindingFilter) ([]*model.Finding, error) {
	// Simple query without Where/OrderBy to avoid requiring composite index
	// We'll filter and sort in memory instead
	iter := f.client.Collection(findingsCollection).Documents(ctx)
	defer iter.Stop()

	findings := make([]*model.Finding, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate findings")
		}

		var finding model.Finding
		if err := doc.DataTo(&finding); err != nil {
			return nil, goerr.Wrap(err, "failed to decode finding")
		}

		if filter.Matches(&finding) {
			findings = append(findings, &finding)
		}
	}

	sortFindings(findings)
	return findings, nil
}

// ListOpenFindingsByScanner lists open findings recorded by a scanner
func (f *Firestore) ListOpenFindingsByScanner(ctx context.Context, scanner types.ScannerName) ([]*model.Finding, error) {
	if scanner == "" {
		return nil, goerr.New("scanner name is empty")
	}

	// Note: Field names in Firestore match Go struct field names (e.g., Scanner not scanner)
	query := f.client.Collection(findingsCollection).
		Where("Scanner", "==", scanner.String()).
		Where("Status", "==", types.FindingStatusOpen.String())

	iter := query.Documents(ctx)
	defer iter.Stop()

	findings := make([]*model.Finding, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate open findings", goerr.V("scanner", scanner))
		}

		var finding model.Finding
		if err := doc.DataTo(&finding); err != nil {
			return nil, goerr.Wrap(err, "failed to decode finding")
		}

		findings = append(findings, &finding)
	}

	// Sort by ID for deterministic order
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].ID < findings[j].ID
	})

	return findings, nil
}

// PutEvent saves a finding event to Firestore
func (f *Firestore) PutEvent(ctx context.Context, event *model.FindingEvent) error {
	if event == nil {
		return goerr.New("event is nil")
	}
	if err := event.Validate(); err != nil {
		return goerr.Wrap(err, "invalid event")
	}

	_, err := f.client.Collection(eventsCollection).Doc(event.ID.String()).Set(ctx, event)
	if err != nil {
		return goerr.Wrap(err, "failed to save event to firestore", goerr.V("eventID", event.ID))
	}

	return nil
}

// ListEventsByFinding retrieves all events for a finding (oldest first)
func (f *Firestore) ListEventsByFinding(ctx context.Context, findingID types.FindingID) ([]*model.FindingEvent, error) {
	if findingID == "" {
		return nil, goerr.New("finding ID is empty")
	}

	query := f.client.Collection(eventsCollection).
		Where("FindingID", "==", findingID.String())

	iter := query.Documents(ctx)
	defer iter.Stop()

	events := make([]*model.FindingEvent, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events", goerr.V("findingID", findingID))
		}

		var event model.FindingEvent
		if err := doc.DataTo(&event); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event")
		}

		events = append(events, &event)
	}

	// Sort by occurrence time (oldest first)
	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	return events, nil
}

// ListEventsSince retrieves events that occurred at or after the specified time (newest first)
func (f *Firestore) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*model.FindingEvent, error) {
	query := f.client.Collection(eventsCollection).
		Where("OccurredAt", ">=", since)

	iter := query.Documents(ctx)
	defer iter.Stop()

	events := make([]*model.FindingEvent, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events since", goerr.V("since", since))
		}

		var event model.FindingEvent
		if err := doc.DataTo(&event); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event")
		}

		events = append(events, &event)
	}

	// Sort by occurrence time (newest first)
	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})

	// Apply limit after sorting
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

// PutScan saves a scan record to Firestore
func (f *Firestore) PutScan(ctx context.Context, scan *model.Scan) error {
	if scan == nil {
		return goerr.New("scan is nil")
	}
	if err := scan.Validate(); err != nil {
		return goerr.Wrap(err, "invalid scan")
	}

	_, err := f.client.Collection(scansCollection).Doc(scan.ID.String()).Set(ctx, scan)
	if err != nil {
		return goerr.Wrap(err, "failed to save scan to firestore", goerr.V("scanID", scan.ID))
	}

	return nil
}

// GetScan retrieves a scan by ID
func (f *Firestore) GetScan(ctx context.Context, id types.ScanID) (*model.Scan, error) {
	if id == "" {
		return nil, goerr.New("scan ID is empty")
	}

	doc, err := f.client.Collection(scansCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrScanNotFound, "failed to get scan", goerr.V("scanID", id))
		}
		return nil, goerr.Wrap(err, "failed to get scan from firestore", goerr.V("scanID", id))
	}

	var scan model.Scan
	if err := doc.DataTo(&scan); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scan")
	}

	return &scan, nil
}

// ListScans retrieves scan records (newest first)
func (f *Firestore) ListScans(ctx context.Context, limit int) ([]*model.Scan, error) {
	iter := f.client.Collection(scansCollection).Documents(ctx)
	defer iter.Stop()

	scans := make([]*model.Scan, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate scans")
		}

		var scan model.Scan
		if err := doc.DataTo(&scan); err != nil {
			return nil, goerr.Wrap(err, "failed to decode scan")
		}

		scans = append(scans, &scan)
	}

	// Sort by start time (newest first)
	sort.Slice(scans, func(i, j int) bool {
		if scans[i].StartedAt.Equal(scans[j].StartedAt) {
			return scans[i].ID > scans[j].ID
		}
		return scans[i].StartedAt.After(scans[j].StartedAt)
	})

	// Apply limit after sorting
	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}

	return scans, nil
}

// GetLatestScan retrieves the most recent scan record
func (f *Firestore) GetLatestScan(ctx context.Context) (*model.Scan, error) {
	scans, err := f.ListScans(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, goerr.Wrap(model.ErrScanNotFound, "no scans recorded")
	}
	return scans[0], nil
}

// Close closes the Firestore client
func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

var _ interfaces.Repository = (*Firestore)(nil) // Compile-time interface check
