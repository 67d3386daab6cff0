package quota

import (
	"context"
	"time"

	"mercator-hq/admission/pkg/quota/store"
)

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	// Allowed reports whether the entry was admitted.
	Allowed bool

	// Scope and Window identify the checked window.
	Scope  Scope
	Window Window

	// Limit is the ceiling; 0 means the window is disabled.
	Limit int64

	// Count is the number of entries in the window before this call.
	Count int64

	// Remaining is the allowance left after this call.
	Remaining int64

	// Reset is when the oldest entry leaves the window.
	Reset time.Time

	// RetryAfter is how long until capacity returns; zero when allowed.
	RetryAfter time.Duration

	// FailedOpen is set when the store could not be consulted.
	FailedOpen bool
}

// constrained reports whether r leaves less headroom than other.
func (r WindowResult) constrained(other *WindowResult) bool {
	if other == nil {
		return true
	}
	if r.Remaining != other.Remaining {
		return r.Remaining < other.Remaining
	}
	return r.Reset.After(other.Reset)
}

// SlidingWindowLimiter counts events in a trailing time window per key.
//
// # Algorithm
//
// Each window is a set of entry timestamps. A check prunes entries at least
// one window old, counts the rest and records a new entry when the count is
// below the limit. Denied requests are never recorded. Stores implementing
// store.WindowRecorder do this atomically; otherwise the steps run in
// sequence and concurrent callers may overshoot by a few entries.
//
// # Thread Safety
//
// SlidingWindowLimiter holds no mutable state and is safe for concurrent use.
type SlidingWindowLimiter struct {
	store store.Store
	opts  options
}

// NewSlidingWindowLimiter creates a limiter over st.
func NewSlidingWindowLimiter(st store.Store, opts ...Option) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{store: st, opts: newOptions(opts)}
}

// CheckAndRecord checks the window for identifier and records one entry if
// allowed. A limit of 0 or less disables the window and always allows.
// Store errors fail open.
func (l *SlidingWindowLimiter) CheckAndRecord(ctx context.Context, identifier string, scope Scope, window Window, limit int64) WindowResult {
	res := WindowResult{Scope: scope, Window: window, Limit: limit}
	if limit <= 0 {
		res.Allowed = true
		return res
	}

	key := WindowKey(scope, identifier, window)
	now := l.opts.now()

	if rec, ok := l.store.(store.WindowRecorder); ok {
		st, err := rec.RecordIfBelow(ctx, key, now, window.Length, limit, window.TTL())
		if err != nil {
			l.opts.failOpen("record", key, err)
			return l.openResult(res, now)
		}
		return l.finish(res, now, st.Admitted, st.Count, st.Oldest)
	}

	if err := l.store.PruneWindow(ctx, key, windowCutoff(now, window)); err != nil {
		l.opts.failOpen("prune", key, err)
		return l.openResult(res, now)
	}

	count, err := l.store.CountWindow(ctx, key)
	if err != nil {
		l.opts.failOpen("count", key, err)
		return l.openResult(res, now)
	}

	if count >= limit {
		oldest, ok, err := l.store.OldestInWindow(ctx, key)
		if err != nil {
			// The denial stands; only the reset hint is degraded.
			l.opts.swallow("oldest", key, err)
			ok = false
		}
		if !ok {
			oldest = now
		}
		return l.finish(res, now, false, count, oldest)
	}

	if err := l.store.AddToWindow(ctx, key, now, window.TTL()); err != nil {
		l.opts.failOpen("add", key, err)
		return l.openResult(res, now)
	}

	return l.finish(res, now, true, count, now)
}

// windowCutoff returns the PruneWindow bound for a window ending at now.
// Entries at least one window old have expired.
func windowCutoff(now time.Time, window Window) time.Time {
	return now.Add(-window.Length + time.Nanosecond)
}

func (l *SlidingWindowLimiter) finish(res WindowResult, now time.Time, admitted bool, count int64, oldest time.Time) WindowResult {
	if oldest.IsZero() {
		oldest = now
	}
	res.Allowed = admitted
	res.Count = count

	// An admitted entry expires one window from now; a denial clears when
	// the oldest entry leaves the window.
	if admitted {
		res.Remaining = max(res.Limit-count-1, 0)
		res.Reset = now.Add(res.Window.Length)
		return res
	}

	res.Remaining = 0
	res.Reset = oldest.Add(res.Window.Length)
	res.RetryAfter = max(res.Reset.Sub(now), 0)
	return res
}

func (l *SlidingWindowLimiter) openResult(res WindowResult, now time.Time) WindowResult {
	res.Allowed = true
	res.FailedOpen = true
	res.Remaining = res.Limit
	res.Reset = now.Add(res.Window.Length)
	return res
}

// WindowUsage is a read-only view of one window.
type WindowUsage struct {
	Scope     Scope     `json:"-"`
	Resource  string    `json:"resource,omitempty"`
	Window    string    `json:"window"`
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Reset     time.Time `json:"reset,omitempty"`
}

// Peek reports window usage without recording an entry.
func (l *SlidingWindowLimiter) Peek(ctx context.Context, identifier string, scope Scope, window Window, limit int64) (WindowUsage, error) {
	usage := WindowUsage{
		Scope:    scope,
		Resource: scope.Resource(),
		Window:   window.Name,
		Limit:    limit,
	}

	key := WindowKey(scope, identifier, window)
	now := l.opts.now()

	if err := l.store.PruneWindow(ctx, key, windowCutoff(now, window)); err != nil {
		return usage, err
	}
	count, err := l.store.CountWindow(ctx, key)
	if err != nil {
		return usage, err
	}
	usage.Count = count
	if limit > 0 {
		usage.Remaining = max(limit-count, 0)
	}

	oldest, ok, err := l.store.OldestInWindow(ctx, key)
	if err != nil {
		return usage, err
	}
	if ok {
		usage.Reset = oldest.Add(window.Length)
	}
	return usage, nil
}
