package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateTiers(cfg.Tiers, cfg.AgentOverrides)...)
	errs = append(errs, validateLimiter(&cfg.Limiter)...)
	errs = append(errs, validateBreakers(&cfg.Breakers)...)
	errs = append(errs, validateGateway(&cfg.Gateway, cfg.Tiers)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}

	return errs
}

// validateStore validates store configuration.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "redis": true, "sqlite": true}
	if cfg.Backend == "" {
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: "backend is required",
		})
	} else if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'redis', or 'sqlite'", cfg.Backend),
		})
	}

	switch cfg.Backend {
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{
				Field:   "store.redis.address",
				Message: "Redis address is required when backend is 'redis'",
			})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{
				Field:   "store.redis.db",
				Message: "database number must be non-negative",
			})
		}
		if cfg.Redis.PoolSize < 0 {
			errs = append(errs, FieldError{
				Field:   "store.redis.pool_size",
				Message: "pool size must be non-negative",
			})
		}
		if cfg.Redis.Timeout < 0 {
			errs = append(errs, FieldError{
				Field:   "store.redis.timeout",
				Message: "timeout must be positive",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.busy_timeout",
				Message: "busy timeout must be positive",
			})
		}
	}

	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "store.sweep_schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.SweepSchedule, err),
			})
		}
	}

	return errs
}

// validateTiers validates the tier table and agent overrides.
func validateTiers(tiers []quota.Tier, overrides quota.AgentOverrides) []FieldError {
	var errs []FieldError

	if len(tiers) == 0 {
		return append(errs, FieldError{
			Field:   "tiers",
			Message: "at least one tier is required",
		})
	}

	known := make(map[string]bool, len(tiers))
	for i, tier := range tiers {
		prefix := fmt.Sprintf("tiers[%d]", i)
		if tier.Name == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".name",
				Message: "tier name is required",
			})
		} else if known[tier.Name] {
			errs = append(errs, FieldError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate tier %q", tier.Name),
			})
		}
		known[tier.Name] = true

		limits := map[string]int64{
			"requests_per_minute":       tier.RequestsPerMinute,
			"requests_per_hour":         tier.RequestsPerHour,
			"requests_per_day":          tier.RequestsPerDay,
			"executions_per_hour":       tier.ExecutionsPerHour,
			"executions_per_day":        tier.ExecutionsPerDay,
			"max_concurrent_executions": tier.MaxConcurrentExecutions,
		}
		for field, v := range limits {
			if v < 0 {
				errs = append(errs, FieldError{
					Field:   prefix + "." + field,
					Message: "limit must be non-negative (0 disables the check)",
				})
			}
		}
		if tier.MaxTokensPerDay != nil && *tier.MaxTokensPerDay < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_tokens_per_day",
				Message: "token budget must be non-negative (omit for unlimited)",
			})
		}
	}

	for resource, byTier := range overrides {
		if resource == "" {
			errs = append(errs, FieldError{
				Field:   "agent_overrides",
				Message: "resource name cannot be empty",
			})
		}
		for tierName, limit := range byTier {
			field := fmt.Sprintf("agent_overrides.%s.%s", resource, tierName)
			if !known[tierName] {
				errs = append(errs, FieldError{
					Field:   field,
					Message: fmt.Sprintf("unknown tier %q", tierName),
				})
			}
			if limit < 0 {
				errs = append(errs, FieldError{
					Field:   field,
					Message: "override must be non-negative",
				})
			}
		}
	}

	return errs
}

// validateLimiter validates limiter settings.
func validateLimiter(cfg *LimiterConfig) []FieldError {
	var errs []FieldError

	if cfg.ConcurrencyTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.concurrency_ttl",
			Message: "concurrency TTL must be positive",
		})
	}
	if cfg.ConcurrencyRetryAfter < 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.concurrency_retry_after",
			Message: "concurrency retry-after must be positive",
		})
	}

	return errs
}

// validateBreakers validates circuit breaker configuration.
func validateBreakers(cfg *BreakersConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateBreaker("breakers.default", cfg.Default)...)
	for name, b := range cfg.Named {
		if name == "" {
			errs = append(errs, FieldError{
				Field:   "breakers.named",
				Message: "breaker name cannot be empty",
			})
			continue
		}
		errs = append(errs, validateBreaker("breakers.named."+name, b)...)
	}

	if cfg.MinHealthPercentage < 0 || cfg.MinHealthPercentage > 100 {
		errs = append(errs, FieldError{
			Field:   "breakers.min_health_percentage",
			Message: "min health percentage must be between 0 and 100",
		})
	}

	return errs
}

func validateBreaker(prefix string, cfg breaker.Config) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".failure_threshold",
			Message: "failure threshold must be positive",
		})
	}
	if cfg.SuccessThreshold < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".success_threshold",
			Message: "success threshold must be positive",
		})
	}
	if cfg.OpenTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".open_timeout",
			Message: "open timeout must be positive",
		})
	}
	if cfg.EvaluationWindow < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".evaluation_window",
			Message: "evaluation window must be positive",
		})
	}

	return errs
}

// validateGateway validates gateway configuration.
func validateGateway(cfg *GatewayConfig, tiers []quota.Tier) []FieldError {
	var errs []FieldError

	switch cfg.Identity {
	case "header":
	case "jwt":
		if cfg.JWTSecret == "" {
			errs = append(errs, FieldError{
				Field:   "gateway.jwt_secret",
				Message: "JWT secret is required when identity is 'jwt'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "gateway.identity",
			Message: fmt.Sprintf("invalid identity %q: must be 'header' or 'jwt'", cfg.Identity),
		})
	}

	if cfg.DefaultTier != "" && len(tiers) > 0 {
		found := false
		for _, tier := range tiers {
			if tier.Name == cfg.DefaultTier {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, FieldError{
				Field:   "gateway.default_tier",
				Message: fmt.Sprintf("default tier %q is not configured", cfg.DefaultTier),
			})
		}
	}

	return errs
}

// validateSecrets validates secret resolution configuration.
func validateSecrets(cfg *SecretsConfig) []FieldError {
	var errs []FieldError

	if cfg.Watch && cfg.Dir == "" {
		errs = append(errs, FieldError{
			Field:   "secrets.watch",
			Message: "watch requires secrets.dir",
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if Enabled(cfg.Metrics.Enabled, DefaultMetricsEnabled) && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.liveness_path",
			Message: "liveness path must start with /",
		})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must start with /",
		})
	}
	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}

	return errs
}
