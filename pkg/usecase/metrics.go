package usecase

import (
	"context"

	"github.com/m-mizutani/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_scans_total",
		Help: "Processed scanner reports by scanner and outcome",
	}, []string{"scanner", "status"})

	findingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_finding_events_total",
		Help: "Finding lifecycle events by type and scanner",
	}, []string{"type", "scanner"})

	openFindings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harrier_open_findings",
		Help: "Currently open findings by severity",
	}, []string{"severity"})
)

// recordScan counts per-scanner report outcomes of one scan
func recordScan(scan *model.Scan) {
	for _, sc := range scan.Scanners {
		scansTotal.WithLabelValues(sc.String(), "ok").Inc()
	}
	for _, se := range scan.Errors {
		name := se.Scanner.String()
		if name == "" {
			name = "unknown"
		}
		scansTotal.WithLabelValues(name, "error").Inc()
	}
}

// recordEvents counts lifecycle events of one scan
func recordEvents(events []*model.FindingEvent) {
	for _, ev := range events {
		findingEventsTotal.WithLabelValues(ev.Type.String(), ev.Scanner.String()).Inc()
	}
}

// refreshOpenFindingsGauge recomputes the open-findings gauge from the
// registry. Absent severities are reset to zero so resolved findings drop
// out of the gauge.
func (u *IngestUseCase) refreshOpenFindingsGauge(ctx context.Context) {
	findings, err := u.repo.ListFindings(ctx, interfaces.FindingFilter{Status: types.FindingStatusOpen})
	if err != nil {
		ctxlog.From(ctx).Warn("Failed to refresh open findings gauge", "error", err)
		return
	}

	counts := make(map[types.Severity]int, len(findings))
	for _, f := range findings {
		counts[f.Severity]++
	}
	for _, sev := range types.Severities() {
		openFindings.WithLabelValues(sev.String()).Set(float64(counts[sev]))
	}
}
