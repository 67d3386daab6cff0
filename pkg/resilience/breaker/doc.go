// Package breaker implements circuit breakers for calls to dependencies.
//
// A CircuitBreaker moves between three states:
//
//	closed    --failures in window reach threshold-->  open
//	open      --open timeout elapsed, next attempt-->  half-open
//	half-open --any failure----------------------------> open
//	half-open --success threshold reached-------------> closed
//
// Guard wraps a call and reports its outcome on every exit path. Callers
// that cannot pass a closure use Allow and call the returned report
// function themselves. A rejected call returns an *OpenError that matches
// ErrCircuitOpen and carries the time left until a probe is allowed.
//
// # Registry
//
// Registry creates breakers on first use and keeps them by name. It backs
// the admin surface: metrics for every breaker, a health summary, and
// reset operations.
//
//	reg := breaker.NewRegistry(breaker.DefaultConfig(), nil)
//	err := reg.GetOrCreate("billing", nil).Guard(ctx, func(ctx context.Context) error {
//		return billing.Charge(ctx, order)
//	})
//	if errors.Is(err, breaker.ErrCircuitOpen) {
//		// billing is unavailable, do not retry immediately
//	}
//
// Transport applies breakers to outbound HTTP requests.
package breaker
