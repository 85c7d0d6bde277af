package changelog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Header opens the changelog on first write. The HTTP changelog endpoint
// reuses it so the rendered history matches the file format.
const Header = `# Security Findings Changelog

This file is appended to by automated security scans. Each entry records a
finding lifecycle transition. Existing entries are never modified.
`

// timeLayout renders event timestamps as entry headings
const timeLayout = "2006-01-02 15:04:05"

// Writer appends rendered finding events to a Markdown changelog file
type Writer struct {
	path string
}

var _ interfaces.ChangelogWriter = (*Writer)(nil)

// New creates a changelog writer for the given file path
func New(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the changelog file path
func (w *Writer) Path() string {
	return w.path
}

// Append renders the events as one entry block and appends it to the
// changelog file, creating the file with a header on first write. The file
// is opened with O_APPEND and previously written bytes are never touched.
func (w *Writer) Append(ctx context.Context, events []*model.FindingEvent) error {
	if len(events) == 0 {
		return nil
	}

	entry := Render(events)

	if dir := filepath.Dir(w.path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return goerr.Wrap(err, "failed to create changelog directory",
				goerr.V("dir", dir))
		}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return goerr.Wrap(err, "failed to open changelog",
			goerr.V("path", w.path))
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return goerr.Wrap(err, "failed to stat changelog",
			goerr.V("path", w.path))
	}

	var buf bytes.Buffer
	if st.Size() == 0 {
		buf.WriteString(Header)
	}
	buf.WriteString("\n")
	buf.WriteString(entry)

	// One write call, so concurrent appenders cannot interleave an entry
	if _, err := f.Write(buf.Bytes()); err != nil {
		return goerr.Wrap(err, "failed to append changelog",
			goerr.V("path", w.path))
	}

	ctxlog.From(ctx).Debug("Changelog entry appended",
		"path", w.path,
		"events", len(events),
	)
	return nil
}

// Render produces the Markdown entry block for one batch of events: a single
// timestamp heading followed by one record per event. Records are ordered
// discovered, reopened, resolved, by severity descending inside each group,
// and by finding ID as the final tie break, so the same batch always renders
// the same bytes.
func Render(events []*model.FindingEvent) string {
	if len(events) == 0 {
		return ""
	}

	ordered := make([]*model.FindingEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if ta, tb := typeOrder(a.Type), typeOrder(b.Type); ta != tb {
			return ta < tb
		}
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		return a.FindingID < b.FindingID
	})

	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(ordered[0].OccurredAt.UTC().Format(timeLayout))
	b.WriteString(" UTC\n")

	for _, ev := range ordered {
		b.WriteString("\n")
		writeRecord(&b, ev)
	}

	return b.String()
}

// RenderHistory renders events spanning multiple scans, one entry block per
// distinct timestamp, preserving the input order of the groups
func RenderHistory(events []*model.FindingEvent) string {
	if len(events) == 0 {
		return ""
	}

	var blocks []string
	var group []*model.FindingEvent
	flush := func() {
		if len(group) > 0 {
			blocks = append(blocks, Render(group))
			group = nil
		}
	}

	for _, ev := range events {
		if len(group) > 0 && !group[len(group)-1].OccurredAt.Equal(ev.OccurredAt) {
			flush()
		}
		group = append(group, ev)
	}
	flush()

	return strings.Join(blocks, "\n")
}

func writeRecord(b *strings.Builder, ev *model.FindingEvent) {
	notes := strings.TrimSpace(ev.Notes)
	if notes == "" {
		notes = "-"
	}
	// Multi-line notes would break the fixed record shape
	notes = strings.Join(strings.Fields(notes), " ")

	b.WriteString("- **Finding ID**: " + ev.FindingID.String() + "\n")
	b.WriteString("- **Event**: " + ev.Type.Label() + "\n")
	b.WriteString("- **Source**: " + ev.Source + "\n")
	b.WriteString("- **Notes**: " + notes + "\n")
	b.WriteString("- **Severity**: " + ev.Severity.String() + "\n")
	b.WriteString("- **Package**: " + ev.Package + "\n")
	b.WriteString("- **Scanner**: " + ev.Scanner.String() + "\n")
}

func typeOrder(t types.EventType) int {
	switch t {
	case types.EventTypeDiscovered:
		return 0
	case types.EventTypeReopened:
		return 1
	case types.EventTypeResolved:
		return 2
	default:
		return 3
	}
}
