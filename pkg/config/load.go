package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "ADMISSION_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention ADMISSION_SECTION_FIELD (e.g., ADMISSION_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = MinimalConfig()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// envLookup reads ADMISSION_<name>.
func envLookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Malformed values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError

	str := func(name string, dst *string) {
		if val, ok := envLookup(name); ok {
			*dst = val
		}
	}
	dur := func(name string, dst *time.Duration) {
		if val, ok := envLookup(name); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid duration %q", val)})
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if val, ok := envLookup(name); ok {
			i, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid integer %q", val)})
				return
			}
			*dst = i
		}
	}
	boolean := func(name string, dst **bool) {
		if val, ok := envLookup(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid boolean %q", val)})
				return
			}
			*dst = &b
		}
	}

	// Server overrides
	str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	dur("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	dur("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	dur("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Store overrides
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_REDIS_ADDRESS", &cfg.Store.Redis.Address)
	str("STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	integer("STORE_REDIS_DB", &cfg.Store.Redis.DB)
	dur("STORE_REDIS_TIMEOUT", &cfg.Store.Redis.Timeout)
	str("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	str("STORE_SWEEP_SCHEDULE", &cfg.Store.SweepSchedule)

	// Breaker overrides
	boolean("BREAKERS_GUARD_STORE", &cfg.Breakers.GuardStore)

	// Gateway overrides
	str("GATEWAY_IDENTITY", &cfg.Gateway.Identity)
	str("GATEWAY_JWT_SECRET", &cfg.Gateway.JWTSecret)
	str("GATEWAY_DEFAULT_TIER", &cfg.Gateway.DefaultTier)

	// Admin overrides
	boolean("ADMIN_ENABLED", &cfg.Admin.Enabled)
	str("ADMIN_TOKEN", &cfg.Admin.Token)

	// Secrets overrides
	str("SECRETS_DIR", &cfg.Secrets.Dir)
	if val, ok := envLookup("SECRETS_WATCH"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Secrets.Watch = b
		} else {
			errs = append(errs, FieldError{Field: EnvPrefix + "SECRETS_WATCH", Message: fmt.Sprintf("invalid boolean %q", val)})
		}
	}

	// Telemetry overrides
	str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	if val, ok := envLookup("TELEMETRY_TRACING_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		} else {
			errs = append(errs, FieldError{Field: EnvPrefix + "TELEMETRY_TRACING_ENABLED", Message: fmt.Sprintf("invalid boolean %q", val)})
		}
	}
	str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val, ok := envLookup("TELEMETRY_TRACING_SAMPLE_RATIO"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		} else {
			errs = append(errs, FieldError{Field: EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO", Message: fmt.Sprintf("invalid number %q", val)})
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
