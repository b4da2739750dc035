// Package metrics exposes Prometheus collectors for the poll cycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gitfeed"

// Artifact names used as the "artifact" label.
const (
	ArtifactHistory = "history"
	ArtifactToken   = "token"
)

// Metrics groups the poll collectors. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	cycles        *prometheus.CounterVec
	duration      prometheus.Histogram
	dropped       prometheus.Counter
	parseDropped  prometheus.Counter
	historySize   prometheus.Gauge
	persistErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent in a poll cycle, including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_dropped_total",
			Help:      "Refresh requests dropped because a poll was already in flight",
		}),
		parseDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Feed records dropped because they could not be parsed",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Number of events currently held in history",
		}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes of persisted artifacts",
		}, []string{"artifact"}),
	}

	reg.MustRegister(m.collectors()...)
	return m
}

// Unregister removes the collectors from reg so it can back a new [Metrics].
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if m == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cycles, m.duration, m.dropped,
		m.parseDropped, m.historySize, m.persistErrors,
	}
}

// ObserveCycle records one completed poll cycle.
func (m *Metrics) ObserveCycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

// RefreshDropped counts a refresh request rejected while busy.
func (m *Metrics) RefreshDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordsDropped counts unparseable feed records.
func (m *Metrics) RecordsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.parseDropped.Add(float64(n))
}

// SetHistorySize reports the current history length.
func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(n))
}

// PersistFailed counts a failed write of artifact.
func (m *Metrics) PersistFailed(artifact string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(artifact).Inc()
}
