package quota

import (
	"net/http"
	"strconv"
	"time"
)

// Decision is the outcome of EvaluateRequest.
//
// Every decision, allowed or denied, carries enough metadata for the caller
// to report a limit, the remaining allowance, and when to retry.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Reason is ReasonAllowed or the check that denied the request.
	Reason Reason `json:"reason"`

	// Identifier is the evaluated caller.
	Identifier string `json:"identifier"`

	// Tier is the tier actually applied. It differs from RequestedTier when
	// the requested tier was unknown.
	Tier string `json:"tier"`

	// RequestedTier is the tier named in the request.
	RequestedTier string `json:"requested_tier,omitempty"`

	// Resource is the evaluated resource scope, if any.
	Resource string `json:"resource,omitempty"`

	// Window names the window that produced Limit and Remaining.
	Window string `json:"window,omitempty"`

	// Limit and Remaining describe the most constrained check.
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`

	// Reset is when the most constrained check regains capacity.
	Reset time.Time `json:"reset"`

	// RetryAfter is zero for allowed decisions.
	RetryAfter time.Duration `json:"retry_after"`

	// Concurrent is the in-flight count observed by the gate.
	Concurrent int64 `json:"concurrent"`

	// Tokens holds the token budget outcome when a budget check ran.
	Tokens *BudgetResult `json:"tokens,omitempty"`

	// FailedOpen is set when any check was skipped because the store was
	// unavailable.
	FailedOpen bool `json:"failed_open,omitempty"`

	err *LimitError
}

// Metadata is the client-facing view of a decision.
type Metadata struct {
	Limit             int64 `json:"limit"`
	Remaining         int64 `json:"remaining"`
	ResetEpochSeconds int64 `json:"resetEpochSeconds"`
	RetryAfterSeconds int64 `json:"retryAfterSeconds,omitempty"`
}

// Metadata returns limit, remaining, reset and retry-after in whole seconds.
func (d *Decision) Metadata() Metadata {
	m := Metadata{
		Limit:     d.Limit,
		Remaining: d.Remaining,
	}
	if !d.Reset.IsZero() {
		m.ResetEpochSeconds = d.Reset.Unix()
		if d.Reset.Nanosecond() > 0 {
			m.ResetEpochSeconds++
		}
	}
	m.RetryAfterSeconds = ceilSeconds(d.RetryAfter)
	return m
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Header names used by Headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderTier       = "X-RateLimit-Tier"
	HeaderRetryAfter = "Retry-After"
)

// Headers returns the rate limit response headers for the decision.
// Retry-After is only set for denials.
func (d *Decision) Headers() http.Header {
	m := d.Metadata()
	h := make(http.Header)
	h.Set(HeaderLimit, strconv.FormatInt(m.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(m.Remaining, 10))
	h.Set(HeaderReset, strconv.FormatInt(m.ResetEpochSeconds, 10))
	if d.Tier != "" {
		h.Set(HeaderTier, d.Tier)
	}
	if !d.Allowed {
		h.Set(HeaderRetryAfter, strconv.FormatInt(m.RetryAfterSeconds, 10))
	}
	return h
}

// Err returns the *LimitError for a denied decision, or nil.
func (d *Decision) Err() error {
	if d.Allowed || d.err == nil {
		return nil
	}
	return d.err
}
