package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/telemetry/logging"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	decisionKey contextKey = "decision"
	reporterKey contextKey = "token_reporter"
)

// tokenReporter accumulates tokens reported by a handler.
type tokenReporter struct {
	tokens atomic.Int64
}

// ReportTokens records tokens consumed while serving the request in ctx.
// Calls accumulate; the total is recorded against the token budget
// when the handler returns. Outside an admitted request it does nothing.
func ReportTokens(ctx context.Context, n int64) {
	if r, ok := ctx.Value(reporterKey).(*tokenReporter); ok && n > 0 {
		r.tokens.Add(n)
	}
}

// IdentityFromContext returns the identity resolved for the request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// DecisionFromContext returns the admission decision for the request.
func DecisionFromContext(ctx context.Context) *quota.Decision {
	d, _ := ctx.Value(decisionKey).(*quota.Decision)
	return d
}

// Middleware admits requests through limiter. The caller is resolved by
// identify; unidentified requests get 401. Denied requests get 429 with
// quota headers and a JSON body. Admitted requests hold a concurrency slot
// while next runs and record tokens reported through ReportTokens when it
// returns, including when it panics.
func Middleware(limiter *quota.Limiter, identify IdentityFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := identify(r)
			if err != nil {
				writeIdentityError(w, err)
				return
			}

			ctx := logging.WithTier(logging.WithIdentifier(r.Context(), id.Identifier), id.Tier)
			d := limiter.EvaluateRequest(ctx, id.Request())
			copyHeaders(w.Header(), d.Headers())

			if !d.Allowed {
				logger.InfoContext(ctx, "request denied",
					"reason", string(d.Reason),
					"resource", id.Scope,
					"retry_after", d.RetryAfter,
				)
				WriteDenied(w, d)
				return
			}

			exec, err := limiter.Begin(ctx, d)
			if err != nil {
				logger.ErrorContext(ctx, "failed to begin execution", "error", err)
				WriteError(w, http.StatusInternalServerError, ErrorTypeServer, "failed to admit request")
				return
			}

			reporter := &tokenReporter{}
			defer func() {
				exec.End(context.WithoutCancel(ctx), reporter.tokens.Load())
			}()

			ctx = context.WithValue(ctx, identityKey, id)
			ctx = context.WithValue(ctx, decisionKey, d)
			ctx = context.WithValue(ctx, reporterKey, reporter)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeIdentityError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnidentified) || errors.Is(err, ErrInvalidToken) {
		WriteError(w, http.StatusUnauthorized, ErrorTypeAuthentication, err.Error())
		return
	}
	WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
}
