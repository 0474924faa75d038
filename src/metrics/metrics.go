// Package metrics holds the Prometheus collectors for upload runs and the
// provenance archive.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hedge_dashboard"

type Metrics struct {
	Registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	Stages          *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	RowsExtracted   prometheus.Counter
	RowsSkipped     *prometheus.CounterVec
	ArchiveSaves    *prometheus.CounterVec
	ArchiveDegraded prometheus.Gauge
	ArchiveEvicted  *prometheus.CounterVec
	Transmissions   *prometheus.CounterVec
	Alerts          *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_runs_total",
			Help: "Upload pipeline runs by final status.",
		}, []string{"status"}),
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provenance_stages_total",
			Help: "Provenance nodes recorded by stage and status.",
		}, []string{"stage", "status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pipeline_run_duration_seconds",
			Help:    "Wall time of one upload pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
		RowsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_extracted_total",
			Help: "Position records extracted from uploads.",
		}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_skipped_total",
			Help: "Rows skipped during extraction by reason.",
		}, []string{"reason"}),
		ArchiveSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_saves_total",
			Help: "Archived provenance graphs by storage tier.",
		}, []string{"tier"}),
		ArchiveDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "archive_degraded",
			Help: "1 while the primary archive store is unavailable.",
		}),
		ArchiveEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_evictions_total",
			Help: "Records dropped from a bounded fallback tier before promotion.",
		}, []string{"tier"}),
		Transmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transmissions_total",
			Help: "Transmission attempts by outcome.",
		}, []string{"outcome"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Operator alerts raised by kind.",
		}, []string{"kind"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Runs, m.Stages, m.RunDuration, m.RowsExtracted, m.RowsSkipped,
		m.ArchiveSaves, m.ArchiveDegraded, m.ArchiveEvicted, m.Transmissions, m.Alerts,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.ArchiveDegraded.Set(1)
		return
	}
	m.ArchiveDegraded.Set(0)
}

// RecordEvictions matches archive.EvictionHook.
func (m *Metrics) RecordEvictions(tier string, ids []string) {
	m.ArchiveEvicted.WithLabelValues(tier).Add(float64(len(ids)))
}
