package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createSampler creates a parent-based sampler for ratio. A ratio of 1
// samples every trace and 0 samples none; anything between samples by
// trace ID hash, so every service reaches the same decision for a trace.
//
// All samplers are wrapped in ParentBased, which respects the parent span's
// sampling decision when one was propagated.
func createSampler(ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler
	switch {
	case ratio < 0.0 || ratio > 1.0:
		return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
	case ratio == 1.0:
		base = sdktrace.AlwaysSample()
	case ratio == 0.0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(base), nil
}
