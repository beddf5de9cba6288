// Package telemetry exposes pipeline measurements as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "impactstory"

// Metrics records runs and stages on its own registry. It satisfies
// pipeline.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	attempts prometheus.Histogram
	stages   *prometheus.HistogramVec
}

// New creates the metrics and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by result status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_attempts",
			Help:      "Synthesis invocations per pipeline run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one role invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		}, []string{"role", "outcome"}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.attempts, m.stages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStage records one role invocation.
func (m *Metrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	m.stages.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(status string, elapsed time.Duration, attempts int) {
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
