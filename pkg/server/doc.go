// Package server assembles the admission service.
//
// New builds the quota store selected by configuration (optionally wrapped
// in the "quota-store" circuit breaker), the tier table and limiter, the
// breaker registry, tracing and Prometheus metrics, and mounts on one
// ServeMux:
//
//	POST   /v1/check                  evaluate without holding a slot
//	POST   /v1/executions             admit and hold a concurrency slot
//	DELETE /v1/executions/{id}        release and record tokens
//	       /v1/authorize              forward-auth for reverse proxies
//	       /admin/...                 operations API (optional token)
//	GET    /healthz, /readyz          probes ("store", "circuit_breakers")
//	GET    /version                   build information
//	GET    /metrics                   Prometheus exposition
//
// Start listens and blocks until the context is cancelled or SIGINT or
// SIGTERM arrives, then shuts down gracefully: in-flight requests drain,
// background sweeps stop, open executions are released, and the store is
// closed.
//
//	srv, err := server.New(ctx, cfg, server.BuildInfo{Version: version}, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
package server
