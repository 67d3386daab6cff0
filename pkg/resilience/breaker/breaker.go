package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Default configuration values.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 30 * time.Second
	DefaultEvaluationWindow = 60 * time.Second
)

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of failures within EvaluationWindow
	// that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout"`

	// EvaluationWindow bounds how far back failures are counted.
	EvaluationWindow time.Duration `yaml:"evaluation_window" json:"evaluation_window"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		OpenTimeout:      DefaultOpenTimeout,
		EvaluationWindow: DefaultEvaluationWindow,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.EvaluationWindow <= 0 {
		c.EvaluationWindow = DefaultEvaluationWindow
	}
	return c
}

// Metrics is a point-in-time view of a breaker. Counters survive state
// transitions and are cleared only by Reset.
type Metrics struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	TotalCalls           int64     `json:"total_calls"`
	SuccessfulCalls      int64     `json:"successful_calls"`
	FailedCalls          int64     `json:"failed_calls"`
	RejectedCalls        int64     `json:"rejected_calls"`
	ConsecutiveFailures  int64     `json:"consecutive_failures"`
	ConsecutiveSuccesses int64     `json:"consecutive_successes"`
	RecentFailures       int       `json:"recent_failures"`
	LastFailure          time.Time `json:"last_failure"`
	LastSuccess          time.Time `json:"last_success"`
	OpenedAt             time.Time `json:"opened_at"`
	StateChanges         int64     `json:"state_changes"`
	Config               Config    `json:"config"`
}

// StateChange describes a transition, passed to state change hooks.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

type options struct {
	logger        *slog.Logger
	now           func() time.Time
	isFailure     func(error) bool
	tracer        trace.Tracer
	collectors    *Collectors
	onStateChange []func(StateChange)
}

// Option configures a breaker.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		now:       time.Now,
		isFailure: func(err error) bool { return err != nil },
		tracer:    noop.NewTracerProvider().Tracer("breaker"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "breaker")
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

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFailurePredicate decides which reported errors count as failures.
// The default counts every non-nil error, including context.Canceled.
func WithFailurePredicate(isFailure func(error) bool) Option {
	return func(o *options) {
		if isFailure != nil {
			o.isFailure = isFailure
		}
	}
}

// WithTracer sets the tracer used by Guard.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithCollectors sets the Prometheus collectors.
func WithCollectors(c *Collectors) Option {
	return func(o *options) {
		o.collectors = c
	}
}

// OnStateChange registers a hook called on every transition. Hooks run
// while the breaker is locked and must not call back into it.
func OnStateChange(fn func(StateChange)) Option {
	return func(o *options) {
		if fn != nil {
			o.onStateChange = append(o.onStateChange, fn)
		}
	}
}

// CircuitBreaker guards calls to a dependency.
//
// Closed: calls pass and failures are counted within the evaluation
// window; reaching the failure threshold opens the circuit.
// Open: calls are rejected with *OpenError until the open timeout elapses;
// the next attempt then moves to half-open and runs as a probe.
// HalfOpen: any failure reopens; SuccessThreshold consecutive successes
// close the circuit and clear the failure history.
//
// Outcomes only drive transitions in the state their call was admitted
// in. A call admitted before a transition still updates the counters when
// it reports, but cannot open or close the circuit.
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  Config
	opts options

	mu                sync.Mutex
	state             State
	failures          []time.Time
	openedAt          time.Time
	halfOpenSuccesses int
	generation        uint64
	stats             Metrics
}

// New creates a breaker in the closed state. Zero config fields take
// their defaults.
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg.WithDefaults(),
		opts:  newOptions(opts),
		state: StateClosed,
	}
	cb.opts.collectors.setState(name, StateClosed)
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config { return cb.cfg }

// Allow performs the before-call check. When the call may proceed it
// returns a report function that must be called exactly once with the
// call's outcome; extra calls are ignored. When the circuit is open it
// returns an *OpenError and the call must not run.
func (cb *CircuitBreaker) Allow() (func(error), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.opts.now()
	cb.stats.TotalCalls++

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.cfg.OpenTimeout {
			cb.stats.RejectedCalls++
			cb.opts.collectors.recordCall(cb.name, "rejected")
			return nil, &OpenError{Name: cb.name, RetryAfter: cb.cfg.OpenTimeout - elapsed}
		}
		cb.transition(StateHalfOpen, now)
	}

	gen := cb.generation
	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.report(err, gen) })
	}, nil
}

// Guard runs fn if the breaker allows it and reports the outcome. The
// outcome is reported on every exit path; a panic in fn is reported as a
// failure and re-raised.
func (cb *CircuitBreaker) Guard(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, span := cb.opts.tracer.Start(ctx, "breaker.guard",
		trace.WithAttributes(attribute.String("breaker.name", cb.name)),
	)
	defer span.End()

	report, err := cb.Allow()
	if err != nil {
		span.SetAttributes(attribute.Bool("breaker.rejected", true))
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			report(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
			panic(r)
		}
		report(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	err = fn(ctx)
	return err
}

// report records an outcome for a call admitted in generation gen.
func (cb *CircuitBreaker) report(err error, gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.opts.now()
	current := gen == cb.generation
	if cb.opts.isFailure(err) {
		cb.onFailure(now, current)
		return
	}
	cb.onSuccess(now, current)
}

func (cb *CircuitBreaker) onFailure(now time.Time, current bool) {
	cb.stats.FailedCalls++
	cb.stats.ConsecutiveFailures++
	cb.stats.ConsecutiveSuccesses = 0
	cb.stats.LastFailure = now
	cb.opts.collectors.recordCall(cb.name, "failure")

	if !current {
		return
	}

	cb.failures = append(cb.failures, now)
	cb.pruneFailures(now)

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen, now)
	case StateClosed:
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) onSuccess(now time.Time, current bool) {
	cb.stats.SuccessfulCalls++
	cb.stats.ConsecutiveSuccesses++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.LastSuccess = now
	cb.opts.collectors.recordCall(cb.name, "success")

	if !current || cb.state != StateHalfOpen {
		return
	}
	cb.halfOpenSuccesses++
	if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
		cb.transition(StateClosed, now)
	}
}

// pruneFailures drops failures older than the evaluation window.
func (cb *CircuitBreaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-cb.cfg.EvaluationWindow)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Before(cutoff) {
		i++
	}
	cb.failures = cb.failures[i:]
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.stats.StateChanges++

	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.failures = nil
		cb.halfOpenSuccesses = 0
		cb.openedAt = time.Time{}
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	cb.opts.logger.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.name,
		"from", from.String(),
		"to", to.String(),
		"recent_failures", len(cb.failures),
	)
	cb.opts.collectors.setState(cb.name, to)

	change := StateChange{Name: cb.name, From: from, To: to, At: now}
	for _, fn := range cb.opts.onStateChange {
		fn(change)
	}
}

// State returns the current state. An open breaker whose timeout elapsed
// still reports open until the next call attempt.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneFailures(cb.opts.now())

	m := cb.stats
	m.Name = cb.name
	m.State = cb.state
	m.RecentFailures = len(cb.failures)
	m.OpenedAt = cb.openedAt
	m.Config = cb.cfg
	return m
}

// Reset returns the breaker to closed and clears its failure history and
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.failures = nil
	cb.openedAt = time.Time{}
	cb.halfOpenSuccesses = 0
	cb.generation++
	cb.stats = Metrics{}

	cb.opts.collectors.setState(cb.name, StateClosed)
	cb.opts.logger.Info("circuit breaker reset",
		"name", cb.name,
		"previous_state", from.String(),
	)
}
