package changelog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/service/changelog"
)

func newEvent(t *testing.T, eventType types.EventType, ruleID string, sev types.Severity, ts time.Time, notes string) *model.FindingEvent {
	t.Helper()

	finding, err := model.NewFinding(types.ScannerBandit, ruleID, "mypylogger", "src/mypylogger/core.py")
	gt.NoError(t, err).Required()
	finding.Severity = sev
	finding.Location = "src/mypylogger/core.py:42"

	ev, err := model.NewFindingEvent(finding, eventType, types.ScanID("scan-1"), ts, notes)
	gt.NoError(t, err).Required()
	return ev
}

func TestRender(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ev := newEvent(t, types.EventTypeDiscovered, "B603", types.SeverityMedium, ts,
		"subprocess call - check for execution of untrusted input.")

	expected := "### 2026-08-20 10:00:00 UTC\n" +
		"\n" +
		"- **Finding ID**: " + ev.FindingID.String() + "\n" +
		"- **Event**: Discovered\n" +
		"- **Source**: src/mypylogger/core.py:42\n" +
		"- **Notes**: subprocess call - check for execution of untrusted input.\n" +
		"- **Severity**: medium\n" +
		"- **Package**: mypylogger\n" +
		"- **Scanner**: bandit\n"

	gt.Equal(t, changelog.Render([]*model.FindingEvent{ev}), expected)
}

func TestRenderEmpty(t *testing.T) {
	gt.Equal(t, changelog.Render(nil), "")
	gt.Equal(t, changelog.RenderHistory(nil), "")
}

func TestRenderOrdering(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	resolvedLow := newEvent(t, types.EventTypeResolved, "B101", types.SeverityLow, ts, "")
	discoveredLow := newEvent(t, types.EventTypeDiscovered, "B102", types.SeverityLow, ts, "")
	reopenedHigh := newEvent(t, types.EventTypeReopened, "B103", types.SeverityHigh, ts, "")
	discoveredHigh := newEvent(t, types.EventTypeDiscovered, "B104", types.SeverityHigh, ts, "")

	out := changelog.Render([]*model.FindingEvent{resolvedLow, discoveredLow, reopenedHigh, discoveredHigh})

	// Discovered first (severity descending), then reopened, then resolved
	positions := []int{
		strings.Index(out, discoveredHigh.FindingID.String()),
		strings.Index(out, discoveredLow.FindingID.String()),
		strings.Index(out, reopenedHigh.FindingID.String()),
		strings.Index(out, resolvedLow.FindingID.String()),
	}
	for i, pos := range positions {
		gt.True(t, pos >= 0)
		if i > 0 {
			gt.True(t, pos > positions[i-1])
		}
	}

	// One heading for the whole batch
	gt.Equal(t, strings.Count(out, "### "), 1)
}

func TestRenderNotes(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("empty notes render as dash", func(t *testing.T) {
		ev := newEvent(t, types.EventTypeResolved, "B201", types.SeverityLow, ts, "")
		out := changelog.Render([]*model.FindingEvent{ev})
		gt.S(t, out).Contains("- **Notes**: -\n")
	})

	t.Run("multi-line notes are flattened", func(t *testing.T) {
		ev := newEvent(t, types.EventTypeDiscovered, "B202", types.SeverityLow, ts,
			"first line\nsecond line")
		out := changelog.Render([]*model.FindingEvent{ev})
		gt.S(t, out).Contains("- **Notes**: first line second line\n")
	})
}

func TestRenderHistory(t *testing.T) {
	t1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC)

	// Newest first, the order ListEventsSince returns
	events := []*model.FindingEvent{
		newEvent(t, types.EventTypeResolved, "B301", types.SeverityLow, t2, ""),
		newEvent(t, types.EventTypeDiscovered, "B301", types.SeverityLow, t1, ""),
		newEvent(t, types.EventTypeDiscovered, "B302", types.SeverityMedium, t1, ""),
	}

	out := changelog.RenderHistory(events)
	gt.Equal(t, strings.Count(out, "### "), 2)

	newer := strings.Index(out, "### 2026-08-21 09:30:00 UTC")
	older := strings.Index(out, "### 2026-08-20 10:00:00 UTC")
	gt.True(t, newer >= 0)
	gt.True(t, older > newer)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "security", "findings", "findings-changelog.md")
	w := changelog.New(path)

	t1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	first := []*model.FindingEvent{
		newEvent(t, types.EventTypeDiscovered, "B603", types.SeverityMedium, t1, "note one"),
	}
	gt.NoError(t, w.Append(ctx, first)).Required()

	data, err := os.ReadFile(path)
	gt.NoError(t, err).Required()
	content := string(data)
	gt.S(t, content).Contains("# Security Findings Changelog")
	gt.S(t, content).Contains("### 2026-08-20 10:00:00 UTC")
	gt.S(t, content).Contains(first[0].FindingID.String())

	// Second append only adds bytes; earlier content stays untouched
	t2 := t1.Add(time.Hour)
	second := []*model.FindingEvent{
		newEvent(t, types.EventTypeResolved, "B603", types.SeverityMedium, t2, "fixed"),
	}
	gt.NoError(t, w.Append(ctx, second)).Required()

	data2, err := os.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.True(t, strings.HasPrefix(string(data2), content))
	gt.True(t, len(data2) > len(data))

	// The header is written exactly once
	gt.Equal(t, strings.Count(string(data2), "# Security Findings Changelog"), 1)
	gt.S(t, string(data2)).Contains("### 2026-08-20 11:00:00 UTC")
}

func TestAppendEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "findings-changelog.md")
	w := changelog.New(path)

	gt.NoError(t, w.Append(ctx, nil)).Required()

	// No events, no file
	_, err := os.Stat(path)
	gt.True(t, os.IsNotExist(err))
}
