package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/telemetry/logging"
)

// Gin keys set on admitted requests.
const (
	GinIdentityKey = "admission.identity"
	GinDecisionKey = "admission.decision"
)

// Gin is Middleware for gin routers. Handlers report tokens with
// ReportTokens(c.Request.Context(), n).
func Gin(limiter *quota.Limiter, identify IdentityFunc, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	return func(c *gin.Context) {
		id, err := identify(c.Request)
		if err != nil {
			writeIdentityError(c.Writer, err)
			c.Abort()
			return
		}

		ctx := logging.WithTier(logging.WithIdentifier(c.Request.Context(), id.Identifier), id.Tier)
		d := limiter.EvaluateRequest(ctx, id.Request())
		copyHeaders(c.Writer.Header(), d.Headers())

		if !d.Allowed {
			logger.InfoContext(ctx, "request denied",
				"reason", string(d.Reason),
				"resource", id.Scope,
				"retry_after", d.RetryAfter,
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, deniedResponse(d))
			return
		}

		exec, err := limiter.Begin(ctx, d)
		if err != nil {
			logger.ErrorContext(ctx, "failed to begin execution", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{
				Message: "failed to admit request",
				Type:    ErrorTypeServer,
			}})
			return
		}

		reporter := &tokenReporter{}
		defer func() {
			exec.End(context.WithoutCancel(ctx), reporter.tokens.Load())
		}()

		ctx = context.WithValue(ctx, identityKey, id)
		ctx = context.WithValue(ctx, decisionKey, d)
		ctx = context.WithValue(ctx, reporterKey, reporter)
		c.Request = c.Request.WithContext(ctx)
		c.Set(GinIdentityKey, id)
		c.Set(GinDecisionKey, d)

		c.Next()
	}
}
