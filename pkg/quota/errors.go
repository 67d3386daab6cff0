package quota

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the quota package. Denials are reported as
// *LimitError, which wraps exactly one of the limit sentinels.
var (
	// ErrRateLimitExceeded indicates a global or per-resource window is full.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrConcurrencyLimitExceeded indicates too many in-flight executions.
	ErrConcurrencyLimitExceeded = errors.New("concurrency limit exceeded")

	// ErrTokenBudgetExceeded indicates the daily token budget is spent.
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")

	// ErrNotAdmitted is returned by Begin for a denied decision.
	ErrNotAdmitted = errors.New("request was not admitted")
)

// Kind classifies a limit violation.
type Kind string

const (
	// KindRateLimit covers global and per-resource windows.
	KindRateLimit Kind = "rate_limit"

	// KindConcurrency covers the in-flight gate.
	KindConcurrency Kind = "concurrency"

	// KindTokenBudget covers the daily token budget.
	KindTokenBudget Kind = "token_budget"
)

// LimitError provides detailed context about a limit violation.
type LimitError struct {
	// Kind classifies the violation.
	Kind Kind

	// Reason is the decision reason that produced the error.
	Reason Reason

	// Identifier is the caller being limited.
	Identifier string

	// Window names the violated window, for rate limits.
	Window string

	// Resource names the violated resource, for resource limits.
	Resource string

	// Limit is the configured ceiling.
	Limit int64

	// Remaining is how much of the ceiling is left (always 0 for windows).
	Remaining int64

	// Current is the in-flight count, for concurrency violations.
	Current int64

	// Used and Requested describe token budget violations.
	Used      int64
	Requested int64

	// Reset is when capacity is expected back.
	Reset time.Time

	// RetryAfter is how long the caller should wait.
	RetryAfter time.Duration

	// Err is the sentinel for this kind.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	switch e.Kind {
	case KindConcurrency:
		return fmt.Sprintf("%v for %s: current=%d, limit=%d", e.Err, e.Identifier, e.Current, e.Limit)
	case KindTokenBudget:
		return fmt.Sprintf("%v for %s: used=%d, requested=%d, limit=%d", e.Err, e.Identifier, e.Used, e.Requested, e.Limit)
	}
	if e.Resource != "" {
		return fmt.Sprintf("%v for %s on %s: limit=%d per %s, retry after %s",
			e.Err, e.Identifier, e.Resource, e.Limit, e.Window, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%v for %s: limit=%d per %s, retry after %s",
		e.Err, e.Identifier, e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// Unwrap returns the sentinel error.
func (e *LimitError) Unwrap() error {
	return e.Err
}

// Retryable reports whether waiting RetryAfter is expected to help within
// the current period. Token budget violations only clear on the next day.
func (e *LimitError) Retryable() bool {
	return e.Kind != KindTokenBudget
}

// IsLimitError reports whether err is a quota violation.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}
