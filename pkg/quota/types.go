package quota

import (
	"time"
)

// Window is a named sliding-window length.
type Window struct {
	// Name is the key suffix for the window ("minute", "hour", "day").
	Name string

	// Length is how far back the window reaches.
	Length time.Duration
}

var (
	// WindowMinute is a 60 second sliding window.
	WindowMinute = Window{Name: "minute", Length: time.Minute}

	// WindowHour is a 3600 second sliding window.
	WindowHour = Window{Name: "hour", Length: time.Hour}

	// WindowDay is an 86400 second sliding window.
	WindowDay = Window{Name: "day", Length: 24 * time.Hour}
)

// TTL is how long a window key survives without writes. Entries older than
// Length are pruned on access, so twice the length keeps every live entry
// while letting idle keys disappear.
func (w Window) TTL() time.Duration {
	return 2 * w.Length
}

// Tier is a named bundle of quota ceilings. A zero ceiling disables that
// check. Tiers are immutable once loaded into a TierTable.
type Tier struct {
	// Name identifies the tier (e.g. "basic", "premium").
	Name string `json:"name" yaml:"name"`

	// RequestsPerMinute caps global requests in the minute window.
	RequestsPerMinute int64 `json:"requests_per_minute" yaml:"requests_per_minute"`

	// RequestsPerHour caps global requests in the hour window.
	RequestsPerHour int64 `json:"requests_per_hour" yaml:"requests_per_hour"`

	// RequestsPerDay caps global requests in the day window.
	RequestsPerDay int64 `json:"requests_per_day" yaml:"requests_per_day"`

	// ExecutionsPerHour caps executions per resource scope per hour.
	// Agent overrides take precedence.
	ExecutionsPerHour int64 `json:"executions_per_hour" yaml:"executions_per_hour"`

	// ExecutionsPerDay caps executions per resource scope per day.
	ExecutionsPerDay int64 `json:"executions_per_day" yaml:"executions_per_day"`

	// MaxConcurrentExecutions caps in-flight executions per identifier.
	MaxConcurrentExecutions int64 `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`

	// MaxTokensPerDay caps daily token usage. nil means unlimited.
	MaxTokensPerDay *int64 `json:"max_tokens_per_day" yaml:"max_tokens_per_day"`
}

// clone returns a deep copy so callers cannot mutate table state through
// the token cap pointer.
func (t Tier) clone() Tier {
	if t.MaxTokensPerDay != nil {
		v := *t.MaxTokensPerDay
		t.MaxTokensPerDay = &v
	}
	return t
}

// Int64 returns a pointer to v, for building tiers with a token cap.
func Int64(v int64) *int64 {
	return &v
}

// Request describes one incoming request to be admitted.
type Request struct {
	// Identifier is the caller's identity (user or API key).
	Identifier string

	// Tier is the caller's tier name. Unknown names fall back to the most
	// restrictive configured tier.
	Tier string

	// Scope is the resource (agent) the request executes, if any. Empty
	// skips the resource checks.
	Scope string

	// EstimatedTokens is the expected token usage. Zero skips the token
	// budget check.
	EstimatedTokens int64
}

// Reason is the machine-readable reason for a decision.
type Reason string

const (
	// ReasonAllowed marks an admitted request.
	ReasonAllowed Reason = "allowed"

	// ReasonGlobalRateLimit marks a denial by a global request window.
	ReasonGlobalRateLimit Reason = "global_rate_limit"

	// ReasonResourceLimit marks a denial by a per-resource execution window.
	ReasonResourceLimit Reason = "resource_limit"

	// ReasonConcurrencyLimit marks a denial by the concurrency gate.
	ReasonConcurrencyLimit Reason = "concurrency_limit"

	// ReasonTokenBudget marks a denial by the daily token budget.
	ReasonTokenBudget Reason = "token_budget"
)
