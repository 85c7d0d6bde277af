package interfaces

import (
	"context"

	"github.com/secmon-lab/harrier/pkg/domain/model"
)

// Notifier delivers scan results to an external channel such as Slack.
type Notifier interface {
	NotifyScan(ctx context.Context, scan *model.Scan, events []*model.FindingEvent) error
}

// Triager enriches discovered findings with an LLM-generated assessment.
type Triager interface {
	TriageFinding(ctx context.Context, finding *model.Finding) (*model.TriageResult, error)
}
