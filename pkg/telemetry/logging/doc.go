// Package logging builds the service's structured logger on log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Redact: true,
//	})
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithIdentifier(ctx, "user-42")
//	logger.InfoContext(ctx, "request admitted", "tier", "basic")
//	// {"level":"INFO","msg":"request admitted","request_id":"req-123","identifier":"user-42","tier":"basic"}
//
// Components receive the *slog.Logger at construction and tag their
// records with a "component" attribute.
//
// # Redaction
//
// With Redact enabled, values under credential-like keys (token, secret,
// password, api_key, authorization) keep only a short prefix, and bearer
// tokens, JWTs and sk- keys are masked inside any string value.
package logging
