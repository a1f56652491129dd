// Package metrics exposes Prometheus collectors for scrape runs.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal         *prometheus.CounterVec
	FetchDelaySeconds    prometheus.Histogram
	RowsPersistedTotal   *prometheus.CounterVec
	TruncatedExtractions *prometheus.CounterVec
	HistoryInFlight      prometheus.Gauge
	RunDurationSeconds   prometheus.Histogram
	RunsTotal            *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrangler_fetches_total",
				Help: "Page fetches by HTTP status code (0 for transport errors)",
			},
			[]string{"status"},
		),
		FetchDelaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wrangler_fetch_delay_seconds",
			Help:    "Courtesy delay applied before each fetch",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		RowsPersistedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrangler_rows_persisted_total",
				Help: "Rows handed to the persister by table",
			},
			[]string{"table"},
		),
		TruncatedExtractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrangler_truncated_extractions_total",
				Help: "Pages whose fields yielded different match counts",
			},
			[]string{"kind"},
		),
		HistoryInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wrangler_history_in_flight",
			Help: "Reservoir history tasks currently running",
		}),
		RunDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wrangler_run_duration_seconds",
			Help:    "Wall-clock duration of complete pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrangler_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.FetchesTotal,
		m.FetchDelaySeconds,
		m.RowsPersistedTotal,
		m.TruncatedExtractions,
		m.HistoryInFlight,
		m.RunDurationSeconds,
		m.RunsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Fetched counts one completed fetch by HTTP status, 0 for transport failures.
func (m *Metrics) Fetched(status int) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Delayed records the random wait applied before a request.
func (m *Metrics) Delayed(seconds float64) {
	if m == nil {
		return
	}
	m.FetchDelaySeconds.Observe(seconds)
}

// Persisted adds the rows written to a table.
func (m *Metrics) Persisted(table string, rows int) {
	if m == nil {
		return
	}
	m.RowsPersistedTotal.WithLabelValues(table).Add(float64(rows))
}

// Truncated counts an extraction cut to its shortest field.
func (m *Metrics) Truncated(kind string) {
	if m == nil {
		return
	}
	m.TruncatedExtractions.WithLabelValues(kind).Inc()
}

// TrackHistory increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackHistory() func() {
	if m == nil {
		return func() {}
	}
	m.HistoryInFlight.Inc()
	return m.HistoryInFlight.Dec
}

// RunFinished records one pipeline run.
func (m *Metrics) RunFinished(seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDurationSeconds.Observe(seconds)
}
