// Admission is a tiered quota enforcement and circuit breaking service for
// agent workloads.
//
// It runs as an HTTP service that gateways consult before executing work:
//   - Sliding-window request and execution limits per tier
//   - Concurrent execution caps and daily token budgets
//   - Circuit breakers for downstream dependencies
//   - An admin API for inspection and resets
//
// Usage:
//
//	# Start the service with defaults (memory store, 127.0.0.1:8080)
//	admission serve
//
//	# Start with a configuration file
//	admission serve --config /etc/admission/config.yaml
//
//	# Inspect a running service
//	admission breakers list
//	admission limits usage user-42 --tier basic
//
//	# Validate a configuration file
//	admission validate --config config.yaml
package main

func main() {
	Execute()
}
