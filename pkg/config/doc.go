// Package config provides configuration management for the admission service.
//
// This package handles loading and validating configuration from YAML files
// with environment variable overrides. It provides a type-safe
// configuration system with collected validation errors and defaults that
// work out of the box.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// The configuration is loaded once at startup and passed to the components
// that need it. There is no package-level instance.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention ADMISSION_SECTION_FIELD.
// For example:
//
//   - ADMISSION_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - ADMISSION_STORE_REDIS_PASSWORD overrides store.redis.password
//   - ADMISSION_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Malformed values (e.g. a bad duration) fail loading.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Tiers
//
// The tiers section is the tier table. A tier with max_tokens_per_day
// omitted (or null) has an unlimited token budget; any other zero limit
// disables that check:
//
//	tiers:
//	  - name: basic
//	    requests_per_minute: 20
//	    requests_per_hour: 500
//	    max_concurrent_executions: 2
//	    max_tokens_per_day: 100000
//	  - name: byok
//	    requests_per_minute: 200
//	agent_overrides:
//	  search:
//	    basic: 5
package config
