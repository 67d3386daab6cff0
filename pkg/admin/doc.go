// Package admin is the operations surface of the admission service.
//
// Service wraps the breaker registry and the quota limiter with read
// operations (breaker metrics, breaker health, tier table, per-identifier
// usage) and explicit resets. Reads never create state; resets are
// idempotent.
//
// Handler exposes Service as JSON under /admin, optionally behind a bearer
// token. Client is the matching HTTP client used by the CLI:
//
//	client := admin.NewClient("http://127.0.0.1:8080", token, nil)
//	breakers, err := client.Breakers(ctx)
//	n, err := client.ResetLimits(ctx, "user-42")
package admin
