package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/admission/pkg/quota/store"
)

// Limiter is the tiered rate limiter. It evaluates every request against
// the caller's tier and owns the execution lifecycle that follows an
// allowed decision.
//
// # Evaluation Order
//
// Checks run in a fixed order and the first failure ends evaluation:
//
//  1. global request windows: minute, hour, day
//  2. resource execution windows, when the request names a resource:
//     hour (agent override or tier default), then day
//  3. the concurrency gate
//  4. the daily token budget, when the request carries an estimate
//
// Windows that passed before a later denial keep their recorded entry.
//
// # Failure Handling
//
// Store errors never deny a request. Each check fails open, the error is
// logged and counted, and the decision is marked FailedOpen.
//
// # Thread Safety
//
// Limiter is safe for concurrent use.
type Limiter struct {
	store   store.Store
	tiers   *TierTable
	windows *SlidingWindowLimiter
	gate    *ConcurrencyGate
	budget  *TokenBudget
	opts    options
}

// NewLimiter creates a tiered limiter over st using tiers.
//
// Example:
//
//	tiers, _ := quota.NewTierTable([]quota.Tier{
//		{Name: "basic", RequestsPerMinute: 20, RequestsPerHour: 500, MaxConcurrentExecutions: 2},
//	}, nil)
//	limiter := quota.NewLimiter(store.NewMemoryStore(), tiers)
//	decision := limiter.EvaluateRequest(ctx, quota.Request{Identifier: "user-1", Tier: "basic"})
func NewLimiter(st store.Store, tiers *TierTable, opts ...Option) *Limiter {
	return &Limiter{
		store:   st,
		tiers:   tiers,
		windows: NewSlidingWindowLimiter(st, opts...),
		gate:    NewConcurrencyGate(st, opts...),
		budget:  NewTokenBudget(st, opts...),
		opts:    newOptions(opts),
	}
}

// Tiers returns the tier table.
func (l *Limiter) Tiers() *TierTable { return l.tiers }

// Windows returns the sliding-window limiter.
func (l *Limiter) Windows() *SlidingWindowLimiter { return l.windows }

// Gate returns the concurrency gate.
func (l *Limiter) Gate() *ConcurrencyGate { return l.gate }

// Budget returns the token budget.
func (l *Limiter) Budget() *TokenBudget { return l.budget }

// Store returns the backing store.
func (l *Limiter) Store() store.Store { return l.store }

type windowCheck struct {
	window Window
	limit  int64
}

// EvaluateRequest decides whether req may proceed. It never returns an
// error: store failures fail open and denials are reported in the decision.
func (l *Limiter) EvaluateRequest(ctx context.Context, req Request) *Decision {
	start := time.Now()

	ctx, span := l.opts.tracer.Start(ctx, "quota.evaluate",
		trace.WithAttributes(
			attribute.String("quota.identifier", req.Identifier),
			attribute.String("quota.tier", req.Tier),
			attribute.String("quota.resource", req.Scope),
		),
	)
	defer span.End()

	d := l.evaluate(ctx, req)

	span.SetAttributes(
		attribute.Bool("quota.allowed", d.Allowed),
		attribute.String("quota.reason", string(d.Reason)),
		attribute.Bool("quota.failed_open", d.FailedOpen),
	)
	if !d.Allowed {
		span.SetStatus(codes.Error, string(d.Reason))
	}

	l.opts.metrics.RecordDecision(d, time.Since(start))
	if !d.Allowed {
		l.opts.logger.Debug("request denied",
			"identifier", req.Identifier,
			"tier", d.Tier,
			"reason", d.Reason,
			"retry_after", d.RetryAfter,
		)
	}
	return d
}

func (l *Limiter) evaluate(ctx context.Context, req Request) *Decision {
	tier, known := l.tiers.Lookup(req.Tier)
	if !known {
		l.opts.logger.Debug("unknown tier, applying most restrictive",
			"requested_tier", req.Tier,
			"tier", tier.Name,
		)
	}

	d := &Decision{
		Identifier:    req.Identifier,
		Tier:          tier.Name,
		RequestedTier: req.Tier,
		Resource:      req.Scope,
	}

	var tightest *WindowResult
	pass := func(r WindowResult) {
		d.FailedOpen = d.FailedOpen || r.FailedOpen
		if r.Limit > 0 && r.constrained(tightest) {
			tightest = &r
		}
	}

	for _, c := range []windowCheck{
		{WindowMinute, tier.RequestsPerMinute},
		{WindowHour, tier.RequestsPerHour},
		{WindowDay, tier.RequestsPerDay},
	} {
		r := l.windows.CheckAndRecord(ctx, req.Identifier, GlobalScope, c.window, c.limit)
		if !r.Allowed {
			return l.denyWindow(d, ReasonGlobalRateLimit, r)
		}
		pass(r)
	}

	if req.Scope != "" {
		scope := ResourceScope(req.Scope)
		for _, c := range []windowCheck{
			{WindowHour, l.tiers.ExecutionsPerHour(tier, req.Scope)},
			{WindowDay, tier.ExecutionsPerDay},
		} {
			r := l.windows.CheckAndRecord(ctx, req.Identifier, scope, c.window, c.limit)
			if !r.Allowed {
				return l.denyWindow(d, ReasonResourceLimit, r)
			}
			pass(r)
		}
	}

	ok, current, failedOpen := l.gate.check(ctx, req.Identifier, tier.MaxConcurrentExecutions)
	d.Concurrent = current
	d.FailedOpen = d.FailedOpen || failedOpen
	if !ok {
		return l.denyConcurrency(d, tier.MaxConcurrentExecutions, current)
	}

	if req.EstimatedTokens > 0 {
		br := l.budget.CheckAndReserve(ctx, req.Identifier, tier.MaxTokensPerDay, req.EstimatedTokens)
		d.Tokens = &br
		d.FailedOpen = d.FailedOpen || br.FailedOpen
		if !br.Allowed {
			return l.denyBudget(d, br)
		}
	}

	d.Allowed = true
	d.Reason = ReasonAllowed
	if tightest != nil {
		d.Window = tightest.Window.Name
		d.Limit = tightest.Limit
		d.Remaining = tightest.Remaining
		d.Reset = tightest.Reset
	}
	return d
}

func (l *Limiter) denyWindow(d *Decision, reason Reason, r WindowResult) *Decision {
	d.Reason = reason
	d.Window = r.Window.Name
	d.Limit = r.Limit
	d.Remaining = 0
	d.Reset = r.Reset
	d.RetryAfter = r.RetryAfter
	d.err = &LimitError{
		Kind:       KindRateLimit,
		Reason:     reason,
		Identifier: d.Identifier,
		Window:     r.Window.Name,
		Resource:   r.Scope.Resource(),
		Limit:      r.Limit,
		Current:    r.Count,
		Reset:      r.Reset,
		RetryAfter: r.RetryAfter,
		Err:        ErrRateLimitExceeded,
	}
	return d
}

func (l *Limiter) denyConcurrency(d *Decision, ceiling, current int64) *Decision {
	retry := l.opts.concurrencyRetryAfter
	d.Reason = ReasonConcurrencyLimit
	d.Window = "concurrent"
	d.Limit = ceiling
	d.Remaining = 0
	d.Reset = l.opts.now().Add(retry)
	d.RetryAfter = retry
	d.err = &LimitError{
		Kind:       KindConcurrency,
		Reason:     ReasonConcurrencyLimit,
		Identifier: d.Identifier,
		Limit:      ceiling,
		Current:    current,
		Reset:      d.Reset,
		RetryAfter: retry,
		Err:        ErrConcurrencyLimitExceeded,
	}
	return d
}

func (l *Limiter) denyBudget(d *Decision, br BudgetResult) *Decision {
	retry := budgetRetryAfter()
	d.Reason = ReasonTokenBudget
	d.Window = "tokens"
	d.Limit = br.Limit
	d.Remaining = br.Remaining
	d.Reset = l.opts.now().Add(retry)
	d.RetryAfter = retry
	d.err = &LimitError{
		Kind:       KindTokenBudget,
		Reason:     ReasonTokenBudget,
		Identifier: d.Identifier,
		Limit:      br.Limit,
		Remaining:  br.Remaining,
		Used:       br.Used,
		Requested:  br.Requested,
		Reset:      d.Reset,
		RetryAfter: retry,
		Err:        ErrTokenBudgetExceeded,
	}
	return d
}

// Execution is an admitted unit of work holding a concurrency slot. End must be called exactly once; further
// calls are no-ops.
type Execution struct {
	limiter    *Limiter
	identifier string
	tier       string
	started    time.Time
	once       sync.Once
}

// Begin commits the concurrency slot for an allowed decision.
func (l *Limiter) Begin(ctx context.Context, d *Decision) (*Execution, error) {
	if d == nil || !d.Allowed {
		return nil, ErrNotAdmitted
	}

	l.gate.Increment(ctx, d.Identifier)
	l.opts.metrics.ExecutionStarted()

	return &Execution{
		limiter:    l,
		identifier: d.Identifier,
		tier:       d.Tier,
		started:    l.opts.now(),
	}, nil
}

// End releases the concurrency slot and records the actual tokens
// consumed. Pass 0 when nothing was consumed.
func (e *Execution) End(ctx context.Context, actualTokens int64) {
	e.once.Do(func() {
		l := e.limiter
		l.gate.Release(ctx, e.identifier)
		l.budget.RecordActualUsage(ctx, e.identifier, actualTokens)
		l.opts.metrics.ExecutionEnded()
		l.opts.metrics.RecordTokens(e.tier, actualTokens)
		l.opts.logger.Debug("execution ended",
			"identifier", e.identifier,
			"duration", l.opts.now().Sub(e.started),
			"tokens", actualTokens,
		)
	})
}

// Identifier returns the identifier the execution belongs to.
func (e *Execution) Identifier() string { return e.identifier }


// Run evaluates req and, when allowed, runs fn inside an execution. The
// slot is released and tokens recorded on every exit path from fn,
// including a panic, which is re-raised after cleanup. fn returns the
// actual tokens it consumed.
//
// A denied request returns the decision and its *LimitError without
// calling fn.
func (l *Limiter) Run(ctx context.Context, req Request, fn func(ctx context.Context) (int64, error)) (d *Decision, err error) {
	d = l.EvaluateRequest(ctx, req)
	if !d.Allowed {
		return d, d.Err()
	}

	exec, err := l.Begin(ctx, d)
	if err != nil {
		return d, err
	}

	var tokens int64
	defer func() {
		// Cleanup must run even when the request context is already done.
		exec.End(context.WithoutCancel(ctx), tokens)
	}()

	tokens, err = fn(ctx)
	return d, err
}

// UsageSnapshot is a read-only report of an identifier's usage.
type UsageSnapshot struct {
	Identifier string        `json:"identifier"`
	Tier       string        `json:"tier"`
	Windows    []WindowUsage `json:"windows"`
	Resources  []WindowUsage `json:"resources,omitempty"`
	Concurrent struct {
		Current int64 `json:"current"`
		Limit   int64 `json:"limit"`
	} `json:"concurrent"`
	Tokens struct {
		Used      int64  `json:"used"`
		Limit     *int64 `json:"limit"`
		Remaining *int64 `json:"remaining"`
	} `json:"tokens"`
}

// GetUsageSnapshot reports usage for identifier under tierName without
// recording anything. Resource windows are included for each named
// resource. Store errors are returned.
func (l *Limiter) GetUsageSnapshot(ctx context.Context, identifier, tierName string, resources ...string) (*UsageSnapshot, error) {
	tier, _ := l.tiers.Lookup(tierName)
	snap := &UsageSnapshot{Identifier: identifier, Tier: tier.Name}

	for _, c := range []windowCheck{
		{WindowMinute, tier.RequestsPerMinute},
		{WindowHour, tier.RequestsPerHour},
		{WindowDay, tier.RequestsPerDay},
	} {
		u, err := l.windows.Peek(ctx, identifier, GlobalScope, c.window, c.limit)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s window: %w", c.window.Name, err)
		}
		snap.Windows = append(snap.Windows, u)
	}

	for _, resource := range resources {
		scope := ResourceScope(resource)
		for _, c := range []windowCheck{
			{WindowHour, l.tiers.ExecutionsPerHour(tier, resource)},
			{WindowDay, tier.ExecutionsPerDay},
		} {
			u, err := l.windows.Peek(ctx, identifier, scope, c.window, c.limit)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s window for %q: %w", c.window.Name, resource, err)
			}
			snap.Resources = append(snap.Resources, u)
		}
	}

	current, err := l.store.GetCounter(ctx, ConcurrencyKey(identifier))
	if err != nil {
		return nil, fmt.Errorf("failed to read concurrency: %w", err)
	}
	snap.Concurrent.Current = max(current, 0)
	snap.Concurrent.Limit = tier.MaxConcurrentExecutions

	used, err := l.store.GetCounter(ctx, TokenKey(identifier))
	if err != nil {
		return nil, fmt.Errorf("failed to read token usage: %w", err)
	}
	snap.Tokens.Used = max(used, 0)
	if tier.MaxTokensPerDay != nil {
		snap.Tokens.Limit = Int64(*tier.MaxTokensPerDay)
		snap.Tokens.Remaining = Int64(max(*tier.MaxTokensPerDay-snap.Tokens.Used, 0))
	}

	return snap, nil
}

// ResetAll deletes every key owned by identifier and returns how many were
// deleted. Keys of other identifiers are never touched.
func (l *Limiter) ResetAll(ctx context.Context, identifier string) (int, error) {
	seen := make(map[string]struct{})
	var keys []string

	for _, pattern := range IdentifierPatterns(identifier) {
		matched, err := l.store.Keys(ctx, pattern)
		if err != nil {
			return 0, fmt.Errorf("failed to list keys for %q: %w", identifier, err)
		}
		for _, key := range matched {
			if _, dup := seen[key]; dup || !ownedBy(key, identifier) {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}
	if err := l.store.DeleteKey(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete keys for %q: %w", identifier, err)
	}

	l.opts.logger.Info("quota state reset",
		"identifier", identifier,
		"keys", len(keys),
	)
	return len(keys), nil
}

// Comparison returns the tier comparison table.
func (l *Limiter) Comparison() Comparison {
	return l.tiers.Comparison()
}
