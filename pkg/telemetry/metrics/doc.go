// Package metrics wires the service's Prometheus metrics onto one registry
// and serves them.
//
// # Metrics
//
//   - admission_decisions_total, admission_evaluate_duration_seconds,
//     admission_store_errors_total, admission_executions_in_flight,
//     admission_tokens_recorded_total, admission_concurrency_underflows_total:
//     registered by the quota package
//   - admission_breaker_state, admission_breaker_calls_total: registered by
//     the breaker package
//   - admission_http_requests_total, admission_http_request_duration_seconds,
//     admission_http_requests_in_flight: request instrumentation
//   - go_* and process_*: runtime collectors
//
// # Usage
//
//	collector := metrics.NewCollector()
//	limiter := quota.NewLimiter(st, tiers, quota.WithMetrics(collector.Quota()))
//	mux.Handle("GET /metrics", collector.Handler())
//	handler := collector.Middleware(mux)
//
// Middleware reads the ServeMux pattern after the mux has routed the
// request, so it must wrap the mux directly. Wrapping it outside a
// middleware that clones the request leaves routes labeled "unmatched".
package metrics
