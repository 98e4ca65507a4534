package config

import "time"

// Config is the root configuration structure for Sextant.
// It contains all configuration sections for the HTTP server, research modes,
// quota limits, response cache, hybrid retrieval, external collaborators and
// telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Modes contains the per-mode step graph budgets.
	Modes ModesConfig `yaml:"modes"`

	// Limits contains admission control quotas and the durable counter store.
	Limits LimitsConfig `yaml:"limits"`

	// Cache contains response cache TTL policy and backing store selection.
	Cache CacheConfig `yaml:"cache"`

	// Retrieval contains the vector index, embedding model and shard layout.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Search contains web-search provider configuration.
	Search SearchConfig `yaml:"search"`

	// Generation contains generation function (LLM) configuration.
	Generation GenerationConfig `yaml:"generation"`

	// Retry is the bounded retry policy applied to every collaborator call.
	Retry RetryConfig `yaml:"retry"`

	// Retention controls scheduled pruning of expired durable rows.
	Retention RetentionConfig `yaml:"retention"`

	// Reload controls hot reloading of this file.
	Reload ReloadConfig `yaml:"reload"`

	// Telemetry contains logging, metrics, tracing and health configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Must exceed the slowest mode's run time.
	// Default: 180s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on keep-alive.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds a single research request end to end.
	// Default: 150s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ModesConfig holds one ModeConfig per research tier.
type ModesConfig struct {
	Auto     ModeConfig `yaml:"auto"`
	Medium   ModeConfig `yaml:"medium"`
	Deep     ModeConfig `yaml:"deep"`
	Workflow ModeConfig `yaml:"workflow"`
}

// ByName returns the configuration for a mode name ("auto", "medium", "deep",
// "workflow").
func (m *ModesConfig) ByName(name string) (*ModeConfig, bool) {
	switch name {
	case "auto":
		return &m.Auto, true
	case "medium":
		return &m.Medium, true
	case "deep":
		return &m.Deep, true
	case "workflow":
		return &m.Workflow, true
	default:
		return nil, false
	}
}

// ModeConfig contains the budget of one mode's step graph.
type ModeConfig struct {
	// TokenCeiling is the total generation-token ceiling for one run.
	TokenCeiling int `yaml:"token_ceiling"`

	// MaxSteps bounds the number of top-level nodes in the graph.
	MaxSteps int `yaml:"max_steps"`

	// MinOutputChars is the minimum final answer length; shorter output fails the run.
	MinOutputChars int `yaml:"min_output_chars"`

	// StepCeilings overrides the per-step token ceilings by step id.
	StepCeilings map[string]int `yaml:"step_ceilings"`

	// StepTimeout bounds a single sequential step.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// TopK is the number of retrieval passages per query text.
	TopK int `yaml:"top_k"`

	// SearchDepth is passed to the web-search provider ("basic" or "advanced").
	SearchDepth string `yaml:"search_depth"`

	// MaxSearchResults bounds web results per search call.
	MaxSearchResults int `yaml:"max_search_results"`

	// GapThreshold selects the single "enhance" step when the counted gaps
	// are at or below it; otherwise the run fans out into deep dives.
	// Only used by deep and workflow.
	GapThreshold int `yaml:"gap_threshold"`

	// FanOut is the number of parallel deep-dive branches (at most 2).
	FanOut int `yaml:"fan_out"`

	// BranchTimeout bounds each deep-dive branch.
	BranchTimeout time.Duration `yaml:"branch_timeout"`

	// CacheTTLMultiplier scales the cache base TTL for answers from this mode.
	CacheTTLMultiplier float64 `yaml:"cache_ttl_multiplier"`
}

// LimitsConfig contains admission control quotas.
type LimitsConfig struct {
	// Threshold is the fraction of each hard limit at which admission is denied.
	// Default: 0.8
	Threshold float64 `yaml:"threshold"`

	// GenerationTokensPerMinute is the provider's per-minute token quota.
	GenerationTokensPerMinute int64 `yaml:"generation_tokens_per_minute"`

	// GenerationTokensPerDay is the daily token quota; persisted across restarts.
	GenerationTokensPerDay int64 `yaml:"generation_tokens_per_day"`

	// GenerationRequestsPerMinute is the provider's per-minute request quota.
	GenerationRequestsPerMinute int64 `yaml:"generation_requests_per_minute"`

	// SearchRequestsPerMinute is the web-search provider's per-minute request quota.
	SearchRequestsPerMinute int64 `yaml:"search_requests_per_minute"`

	// Storage configures the durable counter store.
	Storage LimitsStorageConfig `yaml:"storage"`
}

// LimitsStorageConfig configures the durable counter store.
type LimitsStorageConfig struct {
	// Backend specifies the storage backend to use.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig is shared by every SQLite-backed store.
type SQLiteConfig struct {
	// Path is the path to the database file.
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Enabled controls whether answers are cached at all.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend specifies the backing store.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// BaseTTL is the TTL for non-recency answers before the mode multiplier.
	// Default: 1h
	BaseTTL time.Duration `yaml:"base_ttl"`

	// RecencyTTL is the TTL for answers to recency-sensitive questions.
	// Default: 10m
	RecencyTTL time.Duration `yaml:"recency_ttl"`

	// RecencyTerms is the vocabulary that marks a question as recency-sensitive.
	RecencyTerms []string `yaml:"recency_terms"`

	// MaxEntries bounds the in-memory store (LRU eviction).
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RetrievalConfig configures the hybrid retrieval service.
type RetrievalConfig struct {
	// EmbeddingModel is the embedding model name.
	// Default: "text-embedding-3-small"
	EmbeddingModel string `yaml:"embedding_model"`

	// LookupConcurrency bounds concurrent shard lookups per retrieval call.
	// Default: 4
	LookupConcurrency int `yaml:"lookup_concurrency"`

	// Qdrant configures the vector index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Shards lists the relational shard stores and their replicas.
	Shards []ShardConfig `yaml:"shards"`
}

// QdrantConfig configures the Qdrant vector index connection.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`

	// VectorName is the named vector to query. Empty uses the default vector.
	VectorName string `yaml:"vector_name"`
}

// ShardConfig describes one logical shard and its replicas.
type ShardConfig struct {
	// ID is the shard id carried in vector index payloads.
	ID string `yaml:"id"`

	// Path is the primary SQLite database file.
	Path string `yaml:"path"`

	// Replicas are alternate database files holding the same logical source.
	Replicas []string `yaml:"replicas"`
}

// SearchConfig configures the web-search provider.
type SearchConfig struct {
	// Provider selects the implementation. Options: "tavily", "none".
	// Default: "tavily"
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	// Default: "https://api.tavily.com"
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single HTTP call.
	// Default: 20s
	Timeout time.Duration `yaml:"timeout"`

	// DomainFilters restricts results to these domains when non-empty.
	DomainFilters []string `yaml:"domain_filters"`
}

// GenerationConfig configures the generation function.
type GenerationConfig struct {
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the chat model.
	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Timeout bounds a single generation call.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// CharsPerToken is the ratio used for token estimation.
	// Default: 4.0
	CharsPerToken float64 `yaml:"chars_per_token"`
}

// RetryConfig is the bounded retry policy.
type RetryConfig struct {
	// MaxAttempts including the first attempt.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay before the second attempt.
	// Default: 250ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay between attempts.
	// Default: 5s
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter is the randomization factor (0.0-1.0).
	// Default: 0.5
	Jitter float64 `yaml:"jitter"`
}

// RetentionConfig controls scheduled pruning.
type RetentionConfig struct {
	// PruneSchedule is a standard cron expression, evaluated in UTC.
	// "off" disables the scheduler.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// ReloadConfig controls configuration hot reload.
type ReloadConfig struct {
	// Watch enables reloading the configuration file on change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a change is applied.
	// Default: 200ms
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig contains configuration for observability.
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
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "sextant"
	Namespace string `yaml:"namespace"`

	// DurationBuckets defines histogram buckets for request and step durations (seconds).
	// Default: [0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces kept (0.0-1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as service.name.
	// Default: "sextant"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 3s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
