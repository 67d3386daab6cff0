// Package gateway adapts the quota limiter to HTTP.
//
// In-process gateways wrap their handlers with Middleware (net/http) or
// Gin (gin). Each request is identified, evaluated, and either rejected
// with 429 and X-RateLimit-* headers or run while holding a concurrency
// slot. X-Estimated-Tokens is checked against the daily token budget;
// handlers report the tokens they consumed with ReportTokens and the total
// is recorded when the handler returns.
//
//	mux.Handle("/agents/", gateway.Middleware(limiter, gateway.HeaderIdentity("basic"), logger)(agents))
//
// Gateways in other processes use the DecisionService instead:
//
//	POST   /v1/check                 evaluate without holding a slot
//	POST   /v1/executions            evaluate and begin an execution
//	DELETE /v1/executions/{id}       end it, body {"tokens": n}
//
// Callers are identified either by trusted headers (HeaderIdentity) or by
// an HS256 bearer token (JWTIdentity) whose subject is the identifier and
// whose "tier" claim selects the tier.
package gateway
