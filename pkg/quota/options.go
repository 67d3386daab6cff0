package quota

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults for limiter behavior not covered by tiers.
const (
	// DefaultConcurrencyTTL is the safety expiry of a concurrency counter,
	// bounding how long a leaked slot can persist after a crash.
	DefaultConcurrencyTTL = time.Hour

	// DefaultConcurrencyRetryAfter is the retry hint for concurrency
	// denials, which have no natural reset time.
	DefaultConcurrencyRetryAfter = 5 * time.Second

	// TokenBudgetTTL is the lifetime of a daily token counter, starting at
	// the first recorded use.
	TokenBudgetTTL = 24 * time.Hour
)

// options are shared by all limiter components.
type options struct {
	logger                *slog.Logger
	metrics               *Metrics
	now                   func() time.Time
	tracer                trace.Tracer
	concurrencyTTL        time.Duration
	concurrencyRetryAfter time.Duration
}

// Option configures a limiter component.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:                slog.Default(),
		now:                   time.Now,
		tracer:                noop.NewTracerProvider().Tracer("quota"),
		concurrencyTTL:        DefaultConcurrencyTTL,
		concurrencyRetryAfter: DefaultConcurrencyRetryAfter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "quota")
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source used for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracer sets the tracer used for evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithConcurrencyTTL overrides DefaultConcurrencyTTL.
func WithConcurrencyTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.concurrencyTTL = ttl
		}
	}
}

// WithConcurrencyRetryAfter overrides DefaultConcurrencyRetryAfter.
func WithConcurrencyRetryAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.concurrencyRetryAfter = d
		}
	}
}

// Store error handling modes.
const (
	modeFailOpen  = "fail_open"
	modeSwallowed = "swallowed"
)

// failOpen records a store error on a check path. The caller then admits
// the request as if the check passed.
func (o *options) failOpen(op, key string, err error) {
	o.logger.Warn("quota store unavailable, failing open",
		"op", op,
		"key", key,
		"error", err,
	)
	o.metrics.RecordStoreError(op, modeFailOpen)
}

// swallow records a store error on a bookkeeping path that has no caller
// to report to.
func (o *options) swallow(op, key string, err error) {
	o.logger.Warn("quota store write failed",
		"op", op,
		"key", key,
		"error", err,
	)
	o.metrics.RecordStoreError(op, modeSwallowed)
}
