package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// IdentifierKey is the context key for the caller being admitted.
	IdentifierKey contextKey = "identifier"

	// TierKey is the context key for the caller's tier.
	TierKey contextKey = "tier"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithIdentifier adds the caller identifier to the context.
func WithIdentifier(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, IdentifierKey, identifier)
}

// GetIdentifier retrieves the caller identifier from the context.
func GetIdentifier(ctx context.Context) string {
	if identifier, ok := ctx.Value(IdentifierKey).(string); ok {
		return identifier
	}
	return ""
}

// WithTier adds the caller's tier to the context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, TierKey, tier)
}

// GetTier retrieves the caller's tier from the context.
func GetTier(ctx context.Context) string {
	if tier, ok := ctx.Value(TierKey).(string); ok {
		return tier
	}
	return ""
}

// contextAttrs extracts common fields from context for logging.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), v))
	}
	if v := GetIdentifier(ctx); v != "" {
		attrs = append(attrs, slog.String(string(IdentifierKey), v))
	}
	if v := GetTier(ctx); v != "" {
		attrs = append(attrs, slog.String(string(TierKey), v))
	}
	return attrs
}
