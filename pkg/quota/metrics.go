package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the quota package.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions        *prometheus.CounterVec
	evaluateDuration prometheus.Histogram
	storeErrors      *prometheus.CounterVec
	inFlight         prometheus.Gauge
	tokensRecorded   *prometheus.CounterVec
	underflows       prometheus.Counter
}

// NewMetrics creates quota metrics registered with reg. A nil registerer
// creates unregistered collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Total number of admission decisions by tier, result and reason",
			},
			[]string{"tier", "result", "reason"},
		),

		evaluateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "admission_evaluate_duration_seconds",
				Help:    "Time taken to evaluate an admission request",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_store_errors_total",
				Help: "Store errors by operation and handling mode (fail_open or swallowed)",
			},
			[]string{"op", "mode"},
		),

		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "admission_executions_in_flight",
				Help: "Executions begun through this process and not yet ended",
			},
		),

		tokensRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_tokens_recorded_total",
				Help: "Actual tokens recorded against daily budgets by tier",
			},
			[]string{"tier"},
		),

		underflows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_concurrency_underflows_total",
				Help: "Releases that would have taken a concurrency counter below zero",
			},
		),
	}
}

// RecordDecision records the outcome and latency of an evaluation.
func (m *Metrics) RecordDecision(d *Decision, duration time.Duration) {
	if m == nil {
		return
	}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(d.Tier, result, string(d.Reason)).Inc()
	m.evaluateDuration.Observe(duration.Seconds())
}

// RecordStoreError records a store failure handled by the given mode.
func (m *Metrics) RecordStoreError(op, mode string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op, mode).Inc()
}

// ExecutionStarted increments the in-flight gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// ExecutionEnded decrements the in-flight gauge.
func (m *Metrics) ExecutionEnded() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// RecordTokens records actual token usage for a tier.
func (m *Metrics) RecordTokens(tier string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensRecorded.WithLabelValues(tier).Add(float64(tokens))
}

// RecordUnderflow records a clamped concurrency release.
func (m *Metrics) RecordUnderflow() {
	if m == nil {
		return
	}
	m.underflows.Inc()
}
