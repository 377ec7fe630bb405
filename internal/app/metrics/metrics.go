// Package metrics exposes Prometheus collectors for the settlement
// coordinator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total transaction pipeline runs by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of transaction pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"method"},
	)

	pipelinePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "pipeline",
			Name:      "inflight_phase",
			Help:      "Number of in-flight pipeline runs per phase.",
		},
		[]string{"phase"},
	)

	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "pipeline",
			Name:      "poll_attempts",
			Help:      "Finality poll attempts consumed per pipeline run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 12),
		},
	)

	reconcilerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "reconciler",
			Name:      "ticks_total",
			Help:      "Total reconciler poll cycles.",
		},
	)

	reconcilerFunds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "reconciler",
			Name:      "funds",
			Help:      "Number of funds in the last reconciled view.",
		},
	)

	reconcilerSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "reconciler",
			Name:      "skipped_entries_total",
			Help:      "Ledger entries excluded from listings because they could not be decoded.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		pipelineRuns,
		pipelineDuration,
		pipelinePhase,
		pollAttempts,
		reconcilerTicks,
		reconcilerFunds,
		reconcilerSkipped,
		httpRequests,
		httpDuration,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// PipelineRunCompleted records a finished pipeline run.
func PipelineRunCompleted(method, outcome string, started time.Time) {
	pipelineRuns.WithLabelValues(method, outcome).Inc()
	pipelineDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// PipelinePhaseEntered tracks phase occupancy for in-flight runs.
func PipelinePhaseEntered(phase string) {
	pipelinePhase.WithLabelValues(phase).Inc()
}

// PipelinePhaseLeft decrements phase occupancy.
func PipelinePhaseLeft(phase string) {
	pipelinePhase.WithLabelValues(phase).Dec()
}

// ObservePollAttempts records how many finality polls a run consumed.
func ObservePollAttempts(n int) {
	pollAttempts.Observe(float64(n))
}

// ReconcilerTick records one reconciler cycle and the size of its view.
func ReconcilerTick(fundCount int) {
	reconcilerTicks.Inc()
	reconcilerFunds.Set(float64(fundCount))
}

// ReconcilerEntrySkipped counts an undecodable ledger entry.
func ReconcilerEntrySkipped() {
	reconcilerSkipped.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, path, status string, started time.Time) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(time.Since(started).Seconds())
}
