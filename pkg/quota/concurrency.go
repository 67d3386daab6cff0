package quota

import (
	"context"

	"mercator-hq/admission/pkg/quota/store"
)

// ConcurrencyGate tracks in-flight executions per identifier.
//
// # Algorithm
//
// Admission is two-phase. TryAcquire reads the counter and compares it with
// the ceiling without changing it; Increment commits the slot once the
// caller proceeds; Release gives it back. The check and the commit are not
// atomic, so a burst of callers may briefly exceed the ceiling. Counters
// carry a safety TTL, set when the counter is created, so a slot leaked by
// a crashed process eventually disappears.
//
// # Thread Safety
//
// ConcurrencyGate is safe for concurrent use.
type ConcurrencyGate struct {
	store store.Store
	opts  options
}

// NewConcurrencyGate creates a gate over st.
func NewConcurrencyGate(st store.Store, opts ...Option) *ConcurrencyGate {
	return &ConcurrencyGate{store: st, opts: newOptions(opts)}
}

// TryAcquire reports whether identifier is below ceiling in-flight executions,
// along with the current count. It does not take a slot. A ceiling of 0 or
// less disables the gate. Store errors fail open.
func (g *ConcurrencyGate) TryAcquire(ctx context.Context, identifier string, ceiling int64) (bool, int64) {
	ok, current, _ := g.check(ctx, identifier, ceiling)
	return ok, current
}

// check is TryAcquire that also reports whether it failed open.
func (g *ConcurrencyGate) check(ctx context.Context, identifier string, ceiling int64) (ok bool, current int64, failedOpen bool) {
	if ceiling <= 0 {
		return true, 0, false
	}

	key := ConcurrencyKey(identifier)
	current, err := g.store.GetCounter(ctx, key)
	if err != nil {
		g.opts.failOpen("get", key, err)
		return true, 0, true
	}
	return current < ceiling, current, false
}

// Increment commits a slot and returns the new in-flight count. Store
// errors are logged and swallowed.
func (g *ConcurrencyGate) Increment(ctx context.Context, identifier string) int64 {
	key := ConcurrencyKey(identifier)
	v, err := g.store.IncrementCounter(ctx, key, 1, g.opts.concurrencyTTL)
	if err != nil {
		g.opts.swallow("incr", key, err)
		return 0
	}
	return v
}

// Release returns a slot. An extra release that takes the counter below
// zero is undone by adding back its own decrement, so concurrent extra
// releases cannot leave slots behind. Store errors are logged and swallowed.
func (g *ConcurrencyGate) Release(ctx context.Context, identifier string) {
	key := ConcurrencyKey(identifier)
	v, err := g.store.IncrementCounter(ctx, key, -1, g.opts.concurrencyTTL)
	if err != nil {
		g.opts.swallow("decr", key, err)
		return
	}
	if v >= 0 {
		return
	}

	g.opts.logger.Warn("concurrency counter below zero, clamping",
		"identifier", identifier,
		"value", v,
	)
	g.opts.metrics.RecordUnderflow()
	if _, err := g.store.IncrementCounter(ctx, key, 1, g.opts.concurrencyTTL); err != nil {
		g.opts.swallow("incr", key, err)
	}
}

// Current returns the in-flight count, or 0 when the store is unavailable.
func (g *ConcurrencyGate) Current(ctx context.Context, identifier string) int64 {
	key := ConcurrencyKey(identifier)
	v, err := g.store.GetCounter(ctx, key)
	if err != nil {
		g.opts.swallow("get", key, err)
		return 0
	}
	return max(v, 0)
}
