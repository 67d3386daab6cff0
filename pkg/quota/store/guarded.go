package store

import (
	"context"
	"time"

	"mercator-hq/admission/pkg/resilience/breaker"
)

// Guarded wraps a Store with a circuit breaker. While the breaker is open,
// operations fail immediately with an *Error wrapping the breaker's
// *breaker.OpenError, so callers fail open without waiting on a dead
// backend. Ping and Close bypass the breaker.
type Guarded struct {
	inner Store
	cb    *breaker.CircuitBreaker
}

// NewGuarded wraps st with cb. When st implements WindowRecorder the
// returned store does too.
func NewGuarded(st Store, cb *breaker.CircuitBreaker) Store {
	g := &Guarded{inner: st, cb: cb}
	if rec, ok := st.(WindowRecorder); ok {
		return &guardedRecorder{Guarded: g, rec: rec}
	}
	return g
}

// Unwrap returns the wrapped store.
func (g *Guarded) Unwrap() Store { return g.inner }

func guard[T any](g *Guarded, op, key string, fn func() (T, error)) (T, error) {
	report, err := g.cb.Allow()
	if err != nil {
		var zero T
		return zero, &Error{Op: op, Key: key, Err: err}
	}
	v, err := fn()
	report(err)
	return v, err
}

func (g *Guarded) IncrementCounter(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	return guard(g, "incr", key, func() (int64, error) {
		return g.inner.IncrementCounter(ctx, key, delta, ttlIfNew)
	})
}

func (g *Guarded) GetCounter(ctx context.Context, key string) (int64, error) {
	return guard(g, "get", key, func() (int64, error) {
		return g.inner.GetCounter(ctx, key)
	})
}

func (g *Guarded) DeleteKey(ctx context.Context, keys ...string) error {
	_, err := guard(g, "del", "", func() (struct{}, error) {
		return struct{}{}, g.inner.DeleteKey(ctx, keys...)
	})
	return err
}

func (g *Guarded) AddToWindow(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	_, err := guard(g, "zadd", key, func() (struct{}, error) {
		return struct{}{}, g.inner.AddToWindow(ctx, key, ts, ttl)
	})
	return err
}

func (g *Guarded) PruneWindow(ctx context.Context, key string, olderThan time.Time) error {
	_, err := guard(g, "zremrangebyscore", key, func() (struct{}, error) {
		return struct{}{}, g.inner.PruneWindow(ctx, key, olderThan)
	})
	return err
}

func (g *Guarded) CountWindow(ctx context.Context, key string) (int64, error) {
	return guard(g, "zcard", key, func() (int64, error) {
		return g.inner.CountWindow(ctx, key)
	})
}

func (g *Guarded) OldestInWindow(ctx context.Context, key string) (time.Time, bool, error) {
	var found bool
	ts, err := guard(g, "zrange", key, func() (time.Time, error) {
		ts, ok, err := g.inner.OldestInWindow(ctx, key)
		found = ok
		return ts, err
	})
	return ts, found, err
}

func (g *Guarded) Keys(ctx context.Context, pattern string) ([]string, error) {
	return guard(g, "keys", pattern, func() ([]string, error) {
		return g.inner.Keys(ctx, pattern)
	})
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}

type guardedRecorder struct {
	*Guarded
	rec WindowRecorder
}

func (g *guardedRecorder) RecordIfBelow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, ttl time.Duration) (WindowState, error) {
	return guard(g.Guarded, "record", key, func() (WindowState, error) {
		return g.rec.RecordIfBelow(ctx, key, now, window, limit, ttl)
	})
}
