// Package quota provides tiered admission control for requests that start
// agent executions.
//
// # Overview
//
// A Limiter evaluates each request against the caller's tier:
//
//   - Global request windows: requests per minute, hour and day
//   - Resource windows: executions per hour and day for one resource
//   - Concurrency: in-flight executions per identifier
//   - Token budget: tokens per day per identifier
//
// All state lives in a shared store.Store, so several gateway instances
// enforce one set of limits.
//
// # Usage
//
//	tiers, err := quota.NewTierTable(cfgTiers, overrides)
//	if err != nil {
//		return err
//	}
//	limiter := quota.NewLimiter(st, tiers,
//		quota.WithLogger(logger),
//		quota.WithMetrics(quota.NewMetrics(registry)),
//	)
//
//	decision, err := limiter.Run(ctx, quota.Request{
//		Identifier:      "user-123",
//		Tier:            "premium",
//		Scope:           "search-agent",
//		EstimatedTokens: 800,
//	}, func(ctx context.Context) (int64, error) {
//		return runAgent(ctx)
//	})
//
// When finer control is needed, EvaluateRequest, Begin and Execution.End
// can be called directly. End is idempotent, so it is safe to defer.
//
// # Failure Handling
//
// The quota layer fails open. When the store is unreachable, checks allow
// the request, the decision is marked FailedOpen and the error is counted in
// admission_store_errors_total. Bookkeeping writes that fail after
// admission are logged and dropped.
//
// # Accuracy
//
// Limits are approximate under contention. Window checks are atomic on
// stores that implement store.WindowRecorder; the concurrency gate checks
// and commits in two steps; token estimates are only checked, and the
// budget counts actual usage recorded when the execution ends.
package quota
