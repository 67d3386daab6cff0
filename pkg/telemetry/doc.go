// Package telemetry groups the observability packages of the admission
// service.
//
// # Components
//
//   - logging: slog logger construction, context fields and redaction
//   - metrics: Prometheus registry, quota and breaker collectors, HTTP
//     request metrics
//   - tracing: OpenTelemetry tracer with OTLP gRPC export, HTTP
//     propagation
//   - health: liveness and readiness checks for the store and breakers
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(ctx)
//
//	collector := metrics.NewCollector()
//	limiter := quota.NewLimiter(st, tiers,
//	    quota.WithLogger(logger),
//	    quota.WithMetrics(collector.Quota()),
//	    quota.WithTracer(tracer.Tracer("quota")),
//	)
//
//	checker := health.New(2 * time.Second)
//	checker.Register("store", health.StoreCheck(st))
//
// # Redaction
//
// With redaction enabled, attributes with credential-like keys such as
// token, password or authorization are masked entirely. Bearer tokens,
// JWTs and API keys found inside other string values are scrubbed.
package telemetry
