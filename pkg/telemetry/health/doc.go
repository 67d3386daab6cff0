// Package health serves liveness and readiness probes.
//
// Liveness only reports that the process is serving. Readiness runs the
// registered checks concurrently, each bounded by the check timeout, and
// answers 503 when any fails. The service registers two checks: the quota
// store's Ping and the circuit breaker health percentage.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.Register("store", health.StoreCheck(st))
//	checker.Register("circuit_breakers", health.BreakerCheck(registry, 50))
//	checker.Mount(mux, "/healthz", "/readyz")
package health
