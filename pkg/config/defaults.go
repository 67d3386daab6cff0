package config

import (
	"time"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/quota/store"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Store defaults
	DefaultStoreBackend       = "memory"
	DefaultRedisAddress       = "localhost:6379"
	DefaultRedisPoolSize      = 10
	DefaultRedisTimeout       = 250 * time.Millisecond
	DefaultSQLitePath         = "data/admission.db"
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultStoreSweepSchedule = store.DefaultSweepSchedule

	// Breaker defaults
	DefaultBreakerGuardStore   = true
	DefaultMinHealthPercentage = 50.0
	DefaultStoreBreakerName    = "quota-store"

	// Gateway defaults
	DefaultGatewayIdentity = "header"
	DefaultGatewayTier     = "basic"

	// Admin defaults
	DefaultAdminEnabled = true

	// Secrets defaults
	DefaultSecretsEnvPrefix = "ADMISSION_SECRET_"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "admission"
	DefaultLivenessPath       = "/healthz"
	DefaultReadinessPath      = "/readyz"
	DefaultHealthCheckTimeout = 2 * time.Second
)

// DefaultTiers returns the built-in tier table used when the configuration
// defines none.
func DefaultTiers() []quota.Tier {
	return []quota.Tier{
		{
			Name:                    "basic",
			RequestsPerMinute:       20,
			RequestsPerHour:         500,
			RequestsPerDay:          5000,
			ExecutionsPerHour:       10,
			ExecutionsPerDay:        100,
			MaxConcurrentExecutions: 2,
			MaxTokensPerDay:         quota.Int64(100_000),
		},
		{
			Name:                    "premium",
			RequestsPerMinute:       100,
			RequestsPerHour:         5000,
			RequestsPerDay:          50_000,
			ExecutionsPerHour:       100,
			ExecutionsPerDay:        1000,
			MaxConcurrentExecutions: 10,
			MaxTokensPerDay:         quota.Int64(1_000_000),
		},
		{
			// Bring-your-own-key callers pay for their own tokens.
			Name:                    "byok",
			RequestsPerMinute:       200,
			RequestsPerHour:         10_000,
			RequestsPerDay:          100_000,
			ExecutionsPerHour:       500,
			ExecutionsPerDay:        5000,
			MaxConcurrentExecutions: 20,
		},
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	applyStoreDefaults(&cfg.Store)

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	// Limiter defaults
	if cfg.Limiter.ConcurrencyTTL == 0 {
		cfg.Limiter.ConcurrencyTTL = quota.DefaultConcurrencyTTL
	}
	if cfg.Limiter.ConcurrencyRetryAfter == 0 {
		cfg.Limiter.ConcurrencyRetryAfter = quota.DefaultConcurrencyRetryAfter
	}

	// Breaker defaults
	cfg.Breakers.Default = cfg.Breakers.Default.WithDefaults()
	for name, b := range cfg.Breakers.Named {
		cfg.Breakers.Named[name] = b.WithDefaults()
	}
	if cfg.Breakers.GuardStore == nil {
		v := DefaultBreakerGuardStore
		cfg.Breakers.GuardStore = &v
	}
	if cfg.Breakers.MinHealthPercentage == 0 {
		cfg.Breakers.MinHealthPercentage = DefaultMinHealthPercentage
	}

	// Gateway defaults
	if cfg.Gateway.Identity == "" {
		cfg.Gateway.Identity = DefaultGatewayIdentity
	}
	if cfg.Gateway.DefaultTier == "" {
		cfg.Gateway.DefaultTier = DefaultGatewayTier
	}

	// Admin defaults
	if cfg.Admin.Enabled == nil {
		v := DefaultAdminEnabled
		cfg.Admin.Enabled = &v
	}

	// Secrets defaults
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStoreBackend
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = DefaultRedisAddress
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.Timeout == 0 {
		cfg.Redis.Timeout = DefaultRedisTimeout
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultStoreSweepSchedule
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Enabled == nil {
		v := DefaultMetricsEnabled
		cfg.Metrics.Enabled = &v
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// MinimalConfig returns a valid configuration with all defaults applied.
func MinimalConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
