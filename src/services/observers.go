package services

import (
	"context"
	"fmt"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/metrics"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
)

type AlertKind string

const (
	AlertAnonymizationViolation AlertKind = "anonymization-violation"
	AlertArchiveDegraded        AlertKind = "archive-degraded"
	AlertTransmissionFailed     AlertKind = "transmission-failed"
)

type Alert struct {
	Kind     AlertKind
	RunID    string
	Filename string
	Message  string
	Hint     string
}

// Observer is told about every recorded stage, every finished run and
// every operator alert. Implementations must not block for long.
type Observer interface {
	StageRecorded(ctx context.Context, runID string, node provenance.Node)
	RunFinished(ctx context.Context, result *RunResult)
	Alert(ctx context.Context, alert Alert)
}

type LogObserver struct{}

func NewLogObserver() *LogObserver { return &LogObserver{} }

func (*LogObserver) StageRecorded(ctx context.Context, runID string, node provenance.Node) {
	logger.FromContext(ctx).Info("Provenance stage recorded", "runID", runID, "stage", node.Stage, "node", node.ID, "status", node.Status)
}

func (*LogObserver) RunFinished(ctx context.Context, r *RunResult) {
	logger.FromContext(ctx).Info("Pipeline run finished",
		"runID", r.RunID, "filename", r.Filename, "status", r.Summary.Status,
		"extracted", r.Extracted, "skipped", r.Skipped, "tier", r.Archive.Tier, "duration", r.Duration)
}

func (*LogObserver) Alert(ctx context.Context, a Alert) {
	logger.FromContext(ctx).Warn("Pipeline alert", "runID", a.RunID, "kind", a.Kind, "filename", a.Filename, "message", a.Message)
}

// MetricsObserver feeds the Prometheus collectors.
type MetricsObserver struct {
	m *metrics.Metrics
}

func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) StageRecorded(_ context.Context, _ string, node provenance.Node) {
	o.m.Stages.WithLabelValues(string(node.Stage), string(node.Status)).Inc()
}

func (o *MetricsObserver) RunFinished(_ context.Context, r *RunResult) {
	o.m.Runs.WithLabelValues(r.Summary.Status).Inc()
	o.m.RunDuration.Observe(r.Duration.Seconds())
	o.m.RowsExtracted.Add(float64(r.Extracted))
	for reason, n := range r.SkipReasons {
		o.m.RowsSkipped.WithLabelValues(reason).Add(float64(n))
	}
	if r.Archive.Tier != "" {
		o.m.ArchiveSaves.WithLabelValues(r.Archive.Tier).Inc()
		o.m.SetDegraded(r.Archive.Degraded)
	}
	if r.Transmission != "" {
		o.m.Transmissions.WithLabelValues(r.Transmission).Inc()
	}
}

func (o *MetricsObserver) Alert(_ context.Context, a Alert) {
	o.m.Alerts.WithLabelValues(string(a.Kind)).Inc()
}

// AlertObserver forwards alerts to a Notifier and ignores everything else.
type AlertObserver struct {
	notifier Notifier
}

func NewAlertObserver(n Notifier) *AlertObserver {
	return &AlertObserver{notifier: n}
}

func (*AlertObserver) StageRecorded(context.Context, string, provenance.Node) {}

func (*AlertObserver) RunFinished(context.Context, *RunResult) {}

func (o *AlertObserver) Alert(ctx context.Context, a Alert) {
	subject := fmt.Sprintf("[hedge-dashboard] %s: %s", a.Kind, a.Filename)
	body := a.Message
	if a.Hint != "" {
		body += "\n\n" + a.Hint
	}
	body += "\n\nRun: " + a.RunID
	if err := o.notifier.Notify(ctx, subject, body); err != nil {
		logger.FromContext(ctx).Error("Alert delivery failed", "runID", a.RunID, "kind", a.Kind, "error", err)
	}
}
