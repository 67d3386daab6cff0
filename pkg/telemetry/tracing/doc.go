// Package tracing provides OpenTelemetry tracing for the admission service.
//
// Spans are exported over OTLP gRPC and sampled by trace ID ratio, wrapped
// in a parent-based sampler so a propagated sampling decision is kept. W3C
// Trace Context headers are extracted from incoming requests by Middleware
// and injected into outgoing admin client calls by Transport.
//
// # Usage
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	limiter := quota.NewLimiter(st, tiers, quota.WithTracer(tracer.Tracer("quota")))
//	handler := tracer.Middleware(mux)
//
// When tracing is disabled every tracer is a noop and Middleware adds no
// spans.
package tracing
