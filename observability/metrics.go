// Package observability exposes ingest metrics for Prometheus.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/stockpulse/snapshot"
)

// Metrics implements snapshot.Recorder.
type Metrics struct {
	runs      *prometheus.CounterVec
	rows      prometheus.Counter
	duration  prometheus.Histogram
	latestRun prometheus.Gauge
	gatherer  prometheus.Gatherer
}

// New registers the ingest collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpulse_ingest_runs_total",
			Help: "Ingest passes by result (success, empty, failed).",
		}, []string{"result"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockpulse_ingest_rows_total",
			Help: "Snapshot rows committed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockpulse_ingest_duration_seconds",
			Help:    "Time spent in one ingest pass. Successful fetches are excluded, failed ones are the whole pass.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		latestRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockpulse_latest_run",
			Help: "Most recently committed run number.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.runs, m.rows, m.duration, m.latestRun)
	return m
}

// ObserveIngest records one pass.
func (m *Metrics) ObserveIngest(result string, rows int, run snapshot.RunNumber, seconds float64) {
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
	if result == snapshot.ResultSuccess {
		m.rows.Add(float64(rows))
		m.latestRun.Set(float64(run))
	}
}

// SetLatestRun seeds the gauge at startup.
func (m *Metrics) SetLatestRun(run snapshot.RunNumber) {
	m.latestRun.Set(float64(run))
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
