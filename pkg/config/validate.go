package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
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
	errs = append(errs, validateModes(&cfg.Modes)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateRetrieval(&cfg.Retrieval)...)
	errs = append(errs, validateSearch(&cfg.Search)...)
	errs = append(errs, validateGeneration(&cfg.Generation)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.request_timeout", Message: "request timeout must be positive"})
	}
	if cfg.WriteTimeout > 0 && cfg.RequestTimeout > cfg.WriteTimeout {
		errs = append(errs, FieldError{
			Field:   "server.request_timeout",
			Message: "request timeout must not exceed write timeout",
		})
	}

	return errs
}

func validateModes(cfg *ModesConfig) []FieldError {
	var errs []FieldError

	for _, name := range []string{"auto", "medium", "deep", "workflow"} {
		mode, _ := cfg.ByName(name)
		prefix := "modes." + name

		if mode.TokenCeiling <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".token_ceiling", Message: "token ceiling must be positive"})
		}
		if mode.MaxSteps <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_steps", Message: "max steps must be positive"})
		}
		if mode.MinOutputChars < 0 {
			errs = append(errs, FieldError{Field: prefix + ".min_output_chars", Message: "must be non-negative"})
		}
		for step, ceiling := range mode.StepCeilings {
			if ceiling < 0 {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.step_ceilings.%s", prefix, step),
					Message: "step ceiling must be non-negative",
				})
			}
		}
		if mode.TopK <= 0 || mode.TopK > 50 {
			errs = append(errs, FieldError{Field: prefix + ".top_k", Message: "top k must be between 1 and 50"})
		}
		if mode.SearchDepth != "basic" && mode.SearchDepth != "advanced" {
			errs = append(errs, FieldError{
				Field:   prefix + ".search_depth",
				Message: fmt.Sprintf("invalid search depth %q (must be basic or advanced)", mode.SearchDepth),
			})
		}
		if mode.FanOut < 0 || mode.FanOut > 2 {
			errs = append(errs, FieldError{Field: prefix + ".fan_out", Message: "fan out must be between 0 and 2"})
		}
		if mode.CacheTTLMultiplier <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".cache_ttl_multiplier", Message: "multiplier must be positive"})
		}
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		errs = append(errs, FieldError{
			Field:   "limits.threshold",
			Message: fmt.Sprintf("threshold must be in (0, 1], got %v", cfg.Threshold),
		})
	}

	quotas := map[string]int64{
		"generation_tokens_per_minute":   cfg.GenerationTokensPerMinute,
		"generation_tokens_per_day":      cfg.GenerationTokensPerDay,
		"generation_requests_per_minute": cfg.GenerationRequestsPerMinute,
		"search_requests_per_minute":     cfg.SearchRequestsPerMinute,
	}
	for name, limit := range quotas {
		if limit <= 0 {
			errs = append(errs, FieldError{Field: "limits." + name, Message: "limit must be positive"})
		}
	}

	errs = append(errs, validateBackend("limits.storage", cfg.Storage.Backend, cfg.Storage.SQLite)...)

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateBackend("cache", cfg.Backend, cfg.SQLite)...)

	if cfg.BaseTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.base_ttl", Message: "base TTL must be positive"})
	}
	if cfg.RecencyTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.recency_ttl", Message: "recency TTL must be positive"})
	}
	if cfg.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "cache.max_entries", Message: "max entries must be non-negative"})
	}

	return errs
}

func validateBackend(prefix, backend string, sqlite SQLiteConfig) []FieldError {
	var errs []FieldError

	switch backend {
	case "memory":
	case "sqlite":
		if sqlite.Path == "" {
			errs = append(errs, FieldError{Field: prefix + ".sqlite.path", Message: "path is required for sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   prefix + ".backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", backend),
		})
	}

	return errs
}

func validateRetrieval(cfg *RetrievalConfig) []FieldError {
	var errs []FieldError

	if cfg.LookupConcurrency <= 0 {
		errs = append(errs, FieldError{Field: "retrieval.lookup_concurrency", Message: "must be positive"})
	}
	if cfg.Qdrant.Port <= 0 || cfg.Qdrant.Port > 65535 {
		errs = append(errs, FieldError{Field: "retrieval.qdrant.port", Message: "port must be between 1 and 65535"})
	}
	if cfg.Qdrant.Collection == "" {
		errs = append(errs, FieldError{Field: "retrieval.qdrant.collection", Message: "collection is required"})
	}

	seen := make(map[string]bool, len(cfg.Shards))
	for i, shard := range cfg.Shards {
		prefix := fmt.Sprintf("retrieval.shards[%d]", i)
		if shard.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "shard id is required"})
		} else if seen[shard.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate shard id %q", shard.ID)})
		}
		seen[shard.ID] = true
		if shard.Path == "" {
			errs = append(errs, FieldError{Field: prefix + ".path", Message: "path is required"})
		}
	}

	return errs
}

func validateSearch(cfg *SearchConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case "tavily", "none":
	default:
		errs = append(errs, FieldError{
			Field:   "search.provider",
			Message: fmt.Sprintf("invalid provider %q (must be tavily or none)", cfg.Provider),
		})
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		errs = append(errs, FieldError{Field: "search.base_url", Message: fmt.Sprintf("invalid URL format: %v", err)})
	}

	return errs
}

func validateGeneration(cfg *GenerationConfig) []FieldError {
	var errs []FieldError

	if cfg.Model == "" {
		errs = append(errs, FieldError{Field: "generation.model", Message: "model is required"})
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			errs = append(errs, FieldError{Field: "generation.base_url", Message: fmt.Sprintf("invalid URL format: %v", err)})
		}
	}
	if cfg.CharsPerToken <= 0 {
		errs = append(errs, FieldError{Field: "generation.chars_per_token", Message: "must be positive"})
	}

	return errs
}

func validateRetry(cfg *RetryConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 10 {
		errs = append(errs, FieldError{Field: "retry.max_attempts", Message: "max attempts must be between 1 and 10"})
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		errs = append(errs, FieldError{Field: "retry.jitter", Message: "jitter must be between 0.0 and 1.0"})
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		errs = append(errs, FieldError{Field: "retry.max_delay", Message: "max delay must not be below base delay"})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	if cfg.PruneSchedule == "off" {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		return []FieldError{{
			Field:   "retention.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}
	for i := 1; i < len(cfg.Metrics.DurationBuckets); i++ {
		if cfg.Metrics.DurationBuckets[i] <= cfg.Metrics.DurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}

	return errs
}
