// Package config provides configuration management for Sextant.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// from the environment and validated before use. All validation problems are
// collected and reported together as a ValidationError.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("sextant.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("sextant.yaml")
//	cfg, err := config.LoadFromEnv()
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SEXTANT_SECTION_FIELD:
//
//   - SEXTANT_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - SEXTANT_LIMITS_GENERATION_TOKENS_PER_DAY overrides limits.generation_tokens_per_day
//   - SEXTANT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// OPENAI_API_KEY and TAVILY_API_KEY are used when no key is configured.
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and, after a debounce
// period, reloads it and notifies registered listeners. The command wires it
// to the limiter's SetLimits and the cache TTL policy.
package config
