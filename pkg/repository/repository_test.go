package repository_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/repository"
)

// newTestFinding builds a valid finding with a unique rule ID so suite runs
// against a shared Firestore project do not collide
func newTestFinding(t *testing.T, scanner types.ScannerName, severity types.Severity) *model.Finding {
	t.Helper()

	ruleID := fmt.Sprintf("RULE-%d", time.Now().UnixNano())
	finding, err := model.NewFinding(scanner, ruleID, "mypylogger")
	gt.NoError(t, err).Required()

	now := time.Now()
	finding.Severity = severity
	finding.Title = "test finding " + ruleID
	finding.Location = "src/core.py"
	finding.FirstSeenAt = now
	finding.LastSeenAt = now
	return finding
}

func testRepository(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Run("PutAndGetFinding", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		finding := newTestFinding(t, types.ScannerBandit, types.SeverityHigh)
		finding.Description = "subprocess call without shell escape"
		finding.URL = "https://bandit.readthedocs.io/en/latest/plugins/b603.html"
		finding.Metadata = map[string]string{"confidence": "HIGH"}

		err := repo.PutFinding(ctx, finding)
		gt.NoError(t, err)

		retrieved, err := repo.GetFinding(ctx, finding.ID)
		gt.NoError(t, err)
		gt.Equal(t, finding.ID, retrieved.ID)
		gt.Equal(t, finding.Scanner, retrieved.Scanner)
		gt.Equal(t, finding.RuleID, retrieved.RuleID)
		gt.Equal(t, finding.Package, retrieved.Package)
		gt.Equal(t, finding.Location, retrieved.Location)
		gt.Equal(t, finding.Title, retrieved.Title)
		gt.Equal(t, finding.Description, retrieved.Description)
		gt.Equal(t, finding.Severity, retrieved.Severity)
		gt.Equal(t, finding.Status, retrieved.Status)
		gt.Equal(t, finding.URL, retrieved.URL)
		gt.Equal(t, finding.Metadata, retrieved.Metadata)
		// Timestamp comparison with tolerance for storage precision
		gt.True(t, finding.FirstSeenAt.Sub(retrieved.FirstSeenAt).Abs() < time.Second)
		gt.True(t, finding.LastSeenAt.Sub(retrieved.LastSeenAt).Abs() < time.Second)
	})

	t.Run("GetFinding_NotFound", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		nonExistentID := types.FindingID(fmt.Sprintf("bandit-%012d", time.Now().UnixNano()%1e12))
		_, err := repo.GetFinding(ctx, nonExistentID)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrFindingNotFound))
	})

	t.Run("UpdateFinding", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		finding := newTestFinding(t, types.ScannerPipAudit, types.SeverityCritical)

		err := repo.PutFinding(ctx, finding)
		gt.NoError(t, err)

		// Resolve and save again
		resolvedAt := time.Now()
		scanID := types.NewScanID()
		gt.NoError(t, finding.Resolve(resolvedAt, scanID))
		gt.NoError(t, repo.PutFinding(ctx, finding))

		retrieved, err := repo.GetFinding(ctx, finding.ID)
		gt.NoError(t, err)
		gt.Equal(t, types.FindingStatusResolved, retrieved.Status)
		gt.Equal(t, scanID, retrieved.LastScanID)
		gt.V(t, retrieved.ResolvedAt).NotNil()
		gt.True(t, resolvedAt.Sub(*retrieved.ResolvedAt).Abs() < time.Second)
	})

	t.Run("ListFindings_Filter", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		open := newTestFinding(t, types.ScannerBandit, types.SeverityLow)
		critical := newTestFinding(t, types.ScannerTrivy, types.SeverityCritical)
		resolved := newTestFinding(t, types.ScannerGitleaks, types.SeverityMedium)
		gt.NoError(t, resolved.Resolve(time.Now(), types.NewScanID()))

		for _, f := range []*model.Finding{open, critical, resolved} {
			gt.NoError(t, repo.PutFinding(ctx, f))
		}

		// Status filter keeps open findings only
		openOnly, err := repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusOpen})
		gt.NoError(t, err)
		gt.True(t, containsFinding(openOnly, open.ID))
		gt.True(t, containsFinding(openOnly, critical.ID))
		gt.False(t, containsFinding(openOnly, resolved.ID))

		// Severity floor drops anything below high
		severe, err := repo.ListFindings(ctx, interfaces.FindingFilter{MinSeverity: types.SeverityHigh})
		gt.NoError(t, err)
		gt.True(t, containsFinding(severe, critical.ID))
		gt.False(t, containsFinding(severe, open.ID))

		// Scanner filter
		banditOnly, err := repo.ListFindings(ctx, interfaces.FindingFilter{Scanner: types.ScannerBandit})
		gt.NoError(t, err)
		gt.True(t, containsFinding(banditOnly, open.ID))
		gt.False(t, containsFinding(banditOnly, critical.ID))

		// Results are ordered by severity, highest first
		all, err := repo.ListFindings(ctx, interfaces.FindingFilter{})
		gt.NoError(t, err)
		for i := 0; i < len(all)-1; i++ {
			gt.True(t, all[i].Severity.Rank() >= all[i+1].Severity.Rank())
		}
	})

	t.Run("ListOpenFindingsByScanner", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		open := newTestFinding(t, types.ScannerBandit, types.SeverityMedium)
		resolved := newTestFinding(t, types.ScannerBandit, types.SeverityMedium)
		gt.NoError(t, resolved.Resolve(time.Now(), types.NewScanID()))
		other := newTestFinding(t, types.ScannerTrivy, types.SeverityMedium)

		for _, f := range []*model.Finding{open, resolved, other} {
			gt.NoError(t, repo.PutFinding(ctx, f))
		}

		findings, err := repo.ListOpenFindingsByScanner(ctx, types.ScannerBandit)
		gt.NoError(t, err)
		gt.True(t, containsFinding(findings, open.ID))
		gt.False(t, containsFinding(findings, resolved.ID))
		gt.False(t, containsFinding(findings, other.ID))
		for _, f := range findings {
			gt.Equal(t, types.ScannerBandit, f.Scanner)
			gt.True(t, f.IsOpen())
		}
	})

	t.Run("PutAndListEvents", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		finding := newTestFinding(t, types.ScannerGitleaks, types.SeverityHigh)
		gt.NoError(t, repo.PutFinding(ctx, finding))

		scanID := types.NewScanID()
		baseTime := time.Now()
		eventTypes := []types.EventType{
			types.EventTypeDiscovered,
			types.EventTypeResolved,
			types.EventTypeReopened,
		}
		for i, eventType := range eventTypes {
			event, err := model.NewFindingEvent(finding, eventType, scanID, baseTime.Add(time.Duration(i)*time.Minute), "")
			gt.NoError(t, err).Required()
			gt.NoError(t, repo.PutEvent(ctx, event))
		}

		events, err := repo.ListEventsByFinding(ctx, finding.ID)
		gt.NoError(t, err)
		gt.Equal(t, len(eventTypes), len(events))

		// Check ordering (oldest first) and snapshot fields
		for i, event := range events {
			gt.Equal(t, eventTypes[i], event.Type)
			gt.Equal(t, finding.ID, event.FindingID)
			gt.Equal(t, finding.Scanner, event.Scanner)
			gt.Equal(t, finding.Package, event.Package)
			gt.Equal(t, finding.Source(), event.Source)
			gt.Equal(t, scanID, event.ScanID)
		}
		for i := 0; i < len(events)-1; i++ {
			gt.True(t, events[i].OccurredAt.Before(events[i+1].OccurredAt))
		}
	})

	t.Run("ListEventsByFinding_Empty", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		unknownID := types.FindingID(fmt.Sprintf("trivy-%012d", time.Now().UnixNano()%1e12))
		events, err := repo.ListEventsByFinding(ctx, unknownID)
		gt.NoError(t, err)
		gt.Equal(t, 0, len(events))
	})

	t.Run("ListEventsSince", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		finding := newTestFinding(t, types.ScannerPipAudit, types.SeverityMedium)
		gt.NoError(t, repo.PutFinding(ctx, finding))

		scanID := types.NewScanID()
		baseTime := time.Now()
		for i := 0; i < 4; i++ {
			event, err := model.NewFindingEvent(finding, types.EventTypeDiscovered, scanID, baseTime.Add(time.Duration(i)*time.Minute), "")
			gt.NoError(t, err).Required()
			gt.NoError(t, repo.PutEvent(ctx, event))
		}

		// Cutoff between the second and third event; count only this test's
		// events to tolerate leftovers in a shared Firestore project
		events, err := repo.ListEventsSince(ctx, baseTime.Add(90*time.Second), 0)
		gt.NoError(t, err)
		ours := 0
		for _, event := range events {
			if event.ScanID == scanID {
				ours++
			}
		}
		gt.Equal(t, 2, ours)

		// Check ordering (newest first)
		for i := 0; i < len(events)-1; i++ {
			gt.True(t, events[i].OccurredAt.After(events[i+1].OccurredAt))
		}

		// Limit applies after ordering
		limited, err := repo.ListEventsSince(ctx, baseTime.Add(-time.Minute), 3)
		gt.NoError(t, err)
		gt.Equal(t, 3, len(limited))
		gt.True(t, limited[0].OccurredAt.After(limited[len(limited)-1].OccurredAt))
	})

	t.Run("PutAndGetScan", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		scan, err := model.NewScan("mypylogger", time.Now())
		gt.NoError(t, err).Required()
		scan.AddScanner(types.ScannerBandit)
		scan.AddScanner(types.ScannerPipAudit)
		scan.Duration = 1500 * time.Millisecond
		scan.Stats = model.ScanStats{Total: 12, Discovered: 3, Resolved: 1, Unchanged: 8}
		scan.Errors = []model.ScanError{
			{Scanner: types.ScannerTrivy, Path: "trivy.json", Message: "unexpected EOF"},
		}

		gt.NoError(t, repo.PutScan(ctx, scan))

		retrieved, err := repo.GetScan(ctx, scan.ID)
		gt.NoError(t, err)
		gt.Equal(t, scan.ID, retrieved.ID)
		gt.Equal(t, scan.Package, retrieved.Package)
		gt.Equal(t, scan.Scanners, retrieved.Scanners)
		gt.Equal(t, scan.Duration, retrieved.Duration)
		gt.Equal(t, scan.Stats, retrieved.Stats)
		gt.Equal(t, scan.Errors, retrieved.Errors)
		gt.True(t, scan.StartedAt.Sub(retrieved.StartedAt).Abs() < time.Second)
	})

	t.Run("GetScan_NotFound", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		_, err := repo.GetScan(ctx, types.NewScanID())
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrScanNotFound))
	})

	t.Run("ListScans", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		ctx := context.Background()
		baseTime := time.Now()
		var newest *model.Scan
		for i := 0; i < 3; i++ {
			scan, err := model.NewScan("mypylogger", baseTime.Add(time.Duration(i)*time.Minute))
			gt.NoError(t, err).Required()
			gt.NoError(t, repo.PutScan(ctx, scan))
			newest = scan
		}

		scans, err := repo.ListScans(ctx, 2)
		gt.NoError(t, err)
		gt.Equal(t, 2, len(scans))

		// Check ordering (newest first)
		for i := 0; i < len(scans)-1; i++ {
			gt.True(t, scans[i].StartedAt.After(scans[i+1].StartedAt))
		}

		latest, err := repo.GetLatestScan(ctx)
		gt.NoError(t, err)
		gt.Equal(t, newest.ID, latest.ID)
	})
}

func containsFinding(findings []*model.Finding, id types.FindingID) bool {
	for _, f := range findings {
		if f.ID == id {
			return true
		}
	}
	return false
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) interfaces.Repository {
		return repository.NewMemory()
	})
}

func TestSQLiteRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) interfaces.Repository {
		repo, err := repository.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "harrier.db"))
		gt.NoError(t, err).Required()
		return repo
	})
}

func TestFirestoreRepository(t *testing.T) {
	// Skip test if Firestore test environment variables are not set
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE")

	if projectID == "" || databaseID == "" {
		t.Skip("Skipping Firestore test: TEST_FIRESTORE_PROJECT and TEST_FIRESTORE_DATABASE must be set")
	}

	testRepository(t, func(t *testing.T) interfaces.Repository {
		ctx := context.Background()
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		ctx = ctxlog.With(ctx, logger)

		repo, err := repository.NewFirestore(ctx, projectID, databaseID)
		gt.NoError(t, err)
		return repo
	})
}
