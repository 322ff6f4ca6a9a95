// Package metrics exports merge run counters and phase timings in the
// Prometheus text format. A CLI run is short-lived, so metrics are written
// to a node_exporter textfile rather than served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/docmerge/internal/merge"
)

const namespace = "docmerge"

// Metrics observes merge runs.
type Metrics struct {
	reg *prometheus.Registry

	runs           *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	runDuration    prometheus.Histogram
	stagingCreated prometheus.Counter
	swept          prometheus.Counter
}

// New registers the docmerge collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		reg: reg,
		runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Merge runs by source collection and outcome",
		}, []string{"source", "outcome"}),
		phaseDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each merge phase",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase", "outcome"}),
		runDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of complete merge runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		stagingCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_created_total",
			Help:      "Staging collections created",
		}),
		swept: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_collections_total",
			Help:      "Orphaned staging collections dropped by sweeps",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe implements merge.Observer.
func (m *Metrics) Observe(ev merge.Event) {
	switch ev.Kind {
	case merge.EventPhaseFinished:
		m.phaseDuration.WithLabelValues(string(ev.Phase), outcome(ev.Err)).Observe(ev.Elapsed.Seconds())
	case merge.EventRunFinished:
		m.runs.WithLabelValues(ev.Plan.Source, outcome(ev.Err)).Inc()
		m.runDuration.Observe(ev.Elapsed.Seconds())
	case merge.EventStagingCreated:
		m.stagingCreated.Inc()
	}
}

// Swept counts collections dropped by a sweep.
func (m *Metrics) Swept(n int) {
	m.swept.Add(float64(n))
}

// WriteTextfile writes all metrics to path for the node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
