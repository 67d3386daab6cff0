package config

import (
	"time"

	"mercator-hq/admission/pkg/quota"
	"mercator-hq/admission/pkg/resilience/breaker"
)

// Config is the root configuration structure for the admission service.
// It contains the HTTP server, quota store, tier table, circuit breaker,
// gateway, admin and telemetry settings.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the shared quota store.
	Store StoreConfig `yaml:"store"`

	// Tiers is the tier table. Requests naming an unknown tier are
	// evaluated against the most restrictive entry.
	// Default: DefaultTiers()
	Tiers []quota.Tier `yaml:"tiers"`

	// AgentOverrides replaces executions_per_hour for specific resources,
	// keyed by resource then tier name.
	AgentOverrides quota.AgentOverrides `yaml:"agent_overrides"`

	// Limiter contains limiter behavior not covered by tiers.
	Limiter LimiterConfig `yaml:"limiter"`

	// Breakers configures circuit breakers.
	Breakers BreakersConfig `yaml:"breakers"`

	// Gateway configures how callers are identified on the decision API.
	Gateway GatewayConfig `yaml:"gateway"`

	// Admin configures the administrative API.
	Admin AdminConfig `yaml:"admin"`

	// Secrets configures how ${secret:name} references in credential
	// fields are resolved.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains configuration for observability including logging,
	// metrics, tracing and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// StoreConfig selects the quota store backend.
type StoreConfig struct {
	// Backend is the store implementation.
	// Options: "memory", "redis", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis contains Redis configuration, used when Backend is "redis".
	Redis RedisConfig `yaml:"redis"`

	// SQLite contains SQLite configuration, used when Backend is "sqlite".
	SQLite SQLiteConfig `yaml:"sqlite"`

	// SweepSchedule is the cron schedule for reclaiming expired entries in
	// the memory and sqlite backends. Redis expires keys itself.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the Redis password. Load it from ADMISSION_STORE_REDIS_PASSWORD.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// PoolSize is the maximum number of connections.
	// Default: 10
	PoolSize int `yaml:"pool_size"`

	// Timeout bounds every store operation.
	// Default: 250ms
	Timeout time.Duration `yaml:"timeout"`
}

// SQLiteConfig contains SQLite store settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/admission.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LimiterConfig contains limiter settings that apply to every tier.
type LimiterConfig struct {
	// ConcurrencyTTL is the safety expiry of concurrency counters.
	// Default: 1h
	ConcurrencyTTL time.Duration `yaml:"concurrency_ttl"`

	// ConcurrencyRetryAfter is the retry hint returned on concurrency
	// denials.
	// Default: 5s
	ConcurrencyRetryAfter time.Duration `yaml:"concurrency_retry_after"`
}

// BreakersConfig configures circuit breakers.
type BreakersConfig struct {
	// Default applies to breakers without a named entry.
	Default breaker.Config `yaml:"default"`

	// Named holds per-breaker configuration keyed by breaker name.
	Named map[string]breaker.Config `yaml:"named"`

	// GuardStore wraps the quota store in the "quota-store" breaker so an
	// unavailable backend fails open without waiting on timeouts.
	// Default: true
	GuardStore *bool `yaml:"guard_store"`

	// MinHealthPercentage is the breaker health below which readiness
	// fails.
	// Default: 50
	MinHealthPercentage float64 `yaml:"min_health_percentage"`
}

// GatewayConfig configures caller identification.
type GatewayConfig struct {
	// Identity selects how callers are identified.
	// Options: "header", "jwt"
	// Default: "header"
	Identity string `yaml:"identity"`

	// JWTSecret is the HS256 signing secret when Identity is "jwt". Load it
	// from ADMISSION_GATEWAY_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`

	// DefaultTier is used when a caller presents no tier.
	// Default: "basic"
	DefaultTier string `yaml:"default_tier"`
}

// AdminConfig configures the administrative API.
type AdminConfig struct {
	// Enabled mounts the admin routes.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Token, when set, is required as a bearer token on admin requests.
	Token string `yaml:"token"`
}

// SecretsConfig configures secret resolution. Credential fields
// (admin.token, gateway.jwt_secret, store.redis.password) may contain
// ${secret:name} references.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name to form the
	// environment variable consulted first.
	// Default: "ADMISSION_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory with one file per secret, consulted after the
	// environment. Empty disables it.
	Dir string `yaml:"dir"`

	// Watch reloads the admin token when files in Dir change.
	// Default: false
	Watch bool `yaml:"watch"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "admission"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/healthz"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/readyz"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// Enabled reports whether an optional flag is on, treating nil as def.
func Enabled(flag *bool, def bool) bool {
	if flag == nil {
		return def
	}
	return *flag
}
