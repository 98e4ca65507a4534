package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "SEXTANT_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of NewDefaultConfig, remaining zero fields are
// defaulted, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
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

// Parse decodes YAML bytes into a defaulted Config without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SEXTANT_SECTION_FIELD (e.g., SEXTANT_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and environment variables
// only. It is used when no configuration file is given.
func LoadFromEnv() (*Config, error) {
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format SEXTANT_SECTION_FIELD. The well-known
// OPENAI_API_KEY and TAVILY_API_KEY are honoured when no key is configured.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	setString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	// Limits overrides
	setFloat("LIMITS_THRESHOLD", &cfg.Limits.Threshold)
	setInt64("LIMITS_GENERATION_TOKENS_PER_MINUTE", &cfg.Limits.GenerationTokensPerMinute)
	setInt64("LIMITS_GENERATION_TOKENS_PER_DAY", &cfg.Limits.GenerationTokensPerDay)
	setInt64("LIMITS_GENERATION_REQUESTS_PER_MINUTE", &cfg.Limits.GenerationRequestsPerMinute)
	setInt64("LIMITS_SEARCH_REQUESTS_PER_MINUTE", &cfg.Limits.SearchRequestsPerMinute)
	setString("LIMITS_STORAGE_BACKEND", &cfg.Limits.Storage.Backend)
	setString("LIMITS_STORAGE_SQLITE_PATH", &cfg.Limits.Storage.SQLite.Path)

	// Cache overrides
	setBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("CACHE_BACKEND", &cfg.Cache.Backend)
	setDuration("CACHE_BASE_TTL", &cfg.Cache.BaseTTL)
	setDuration("CACHE_RECENCY_TTL", &cfg.Cache.RecencyTTL)
	setString("CACHE_SQLITE_PATH", &cfg.Cache.SQLite.Path)

	// Retrieval overrides
	setString("RETRIEVAL_EMBEDDING_MODEL", &cfg.Retrieval.EmbeddingModel)
	setString("RETRIEVAL_QDRANT_HOST", &cfg.Retrieval.Qdrant.Host)
	setInt("RETRIEVAL_QDRANT_PORT", &cfg.Retrieval.Qdrant.Port)
	setString("RETRIEVAL_QDRANT_API_KEY", &cfg.Retrieval.Qdrant.APIKey)
	setBool("RETRIEVAL_QDRANT_USE_TLS", &cfg.Retrieval.Qdrant.UseTLS)
	setString("RETRIEVAL_QDRANT_COLLECTION", &cfg.Retrieval.Qdrant.Collection)

	// Search overrides
	setString("SEARCH_PROVIDER", &cfg.Search.Provider)
	setString("SEARCH_API_KEY", &cfg.Search.APIKey)
	setString("SEARCH_BASE_URL", &cfg.Search.BaseURL)
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}

	// Generation overrides
	setString("GENERATION_API_KEY", &cfg.Generation.APIKey)
	setString("GENERATION_BASE_URL", &cfg.Generation.BaseURL)
	setString("GENERATION_MODEL", &cfg.Generation.Model)
	setDuration("GENERATION_TIMEOUT", &cfg.Generation.Timeout)
	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Retry overrides
	setInt("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	setDuration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)

	// Retention overrides
	setString("RETENTION_PRUNE_SCHEDULE", &cfg.Retention.PruneSchedule)

	// Telemetry overrides
	setString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	setBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	setString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	setBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	setString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	setFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func lookup(name string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	return val, val != ""
}

func setString(name string, dst *string) {
	if val, ok := lookup(name); ok {
		*dst = val
	}
}

func setBool(name string, dst *bool) {
	if val, ok := lookup(name); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setInt(name string, dst *int) {
	if val, ok := lookup(name); ok {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func setInt64(name string, dst *int64) {
	if val, ok := lookup(name); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func setFloat(name string, dst *float64) {
	if val, ok := lookup(name); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(name string, dst *time.Duration) {
	if val, ok := lookup(name); ok {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
