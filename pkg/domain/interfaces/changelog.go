package interfaces

import (
	"context"

	"github.com/secmon-lab/harrier/pkg/domain/model"
)

// ChangelogWriter appends rendered lifecycle events to the findings
// changelog. Events of one call share a single timestamp heading.
type ChangelogWriter interface {
	Append(ctx context.Context, events []*model.FindingEvent) error
}
