package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on admission spans.
const (
	AttrRequestID  = "admission.request_id"
	AttrIdentifier = "admission.identifier"
	AttrTier       = "admission.tier"
	AttrResource   = "admission.resource"
	AttrAllowed    = "admission.allowed"
	AttrReason     = "admission.reason"
	AttrTokens     = "admission.tokens"
)

// SetCallerAttributes records who a request was evaluated for.
func SetCallerAttributes(span trace.Span, requestID, identifier, tier, resource string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrIdentifier, identifier),
		attribute.String(AttrTier, tier),
	}
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	if resource != "" {
		attrs = append(attrs, attribute.String(AttrResource, resource))
	}
	span.SetAttributes(attrs...)
}

// SetDecisionAttributes records the outcome of an admission decision.
func SetDecisionAttributes(span trace.Span, allowed bool, reason string) {
	span.SetAttributes(attribute.Bool(AttrAllowed, allowed))
	if reason != "" {
		span.SetAttributes(attribute.String(AttrReason, reason))
	}
}

// SetTokenAttributes records tokens reported for an execution.
func SetTokenAttributes(span trace.Span, tokens int64) {
	span.SetAttributes(attribute.Int64(AttrTokens, tokens))
}
