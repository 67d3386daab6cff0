package quota

import (
	"context"
	"time"

	"mercator-hq/admission/pkg/quota/store"
)

// BudgetResult is the outcome of a token budget check.
type BudgetResult struct {
	// Allowed reports whether the requested tokens fit the budget.
	Allowed bool `json:"allowed"`

	// Unlimited is set when the tier has no token cap.
	Unlimited bool `json:"unlimited"`

	// Limit is the daily cap; 0 when unlimited.
	Limit int64 `json:"limit"`

	// Used is the usage recorded before this check.
	Used int64 `json:"used"`

	// Requested is the estimate that was checked.
	Requested int64 `json:"requested"`

	// Remaining is the budget left before this request.
	Remaining int64 `json:"remaining"`

	// FailedOpen is set when the store could not be consulted.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// TokenBudget enforces a daily token cap per identifier.
//
// # Algorithm
//
// The estimate is checked against used+requested <= cap before work starts.
// The check never writes: only RecordActualUsage adds to the counter, so
// the counter holds actual usage. Concurrent requests admitted in the same
// instant can together overshoot the cap by their estimates. The counter
// expires 24 hours after its first use.
//
// # Thread Safety
//
// TokenBudget is safe for concurrent use.
type TokenBudget struct {
	store store.Store
	opts  options
}

// NewTokenBudget creates a token budget over st.
func NewTokenBudget(st store.Store, opts ...Option) *TokenBudget {
	return &TokenBudget{store: st, opts: newOptions(opts)}
}

// CheckAndReserve checks requested tokens against limit without mutating
// the counter. A nil limit means unlimited. Store errors fail open.
func (b *TokenBudget) CheckAndReserve(ctx context.Context, identifier string, limit *int64, requested int64) BudgetResult {
	res := BudgetResult{Requested: requested}
	if limit == nil {
		res.Allowed = true
		res.Unlimited = true
		return res
	}
	res.Limit = *limit

	key := TokenKey(identifier)
	used, err := b.store.GetCounter(ctx, key)
	if err != nil {
		b.opts.failOpen("get", key, err)
		res.Allowed = true
		res.FailedOpen = true
		res.Remaining = res.Limit
		return res
	}
	used = max(used, 0)
	res.Used = used
	res.Remaining = max(res.Limit-used, 0)
	res.Allowed = used+requested <= res.Limit
	return res
}

// RecordActualUsage adds actual tokens to the counter, creating it with a
// 24 hour TTL. Non-positive amounts are ignored. Store errors are logged
// and swallowed.
func (b *TokenBudget) RecordActualUsage(ctx context.Context, identifier string, actual int64) {
	if actual <= 0 {
		return
	}
	key := TokenKey(identifier)
	if _, err := b.store.IncrementCounter(ctx, key, actual, TokenBudgetTTL); err != nil {
		b.opts.swallow("incr", key, err)
	}
}

// Usage returns tokens used today, or 0 when the store is unavailable.
func (b *TokenBudget) Usage(ctx context.Context, identifier string) int64 {
	key := TokenKey(identifier)
	v, err := b.store.GetCounter(ctx, key)
	if err != nil {
		b.opts.swallow("get", key, err)
		return 0
	}
	return max(v, 0)
}

// budgetRetryAfter is the retry hint for a spent budget. The counter's
// remaining TTL is not exposed by every store, so a full period is used.
func budgetRetryAfter() time.Duration {
	return TokenBudgetTTL
}
