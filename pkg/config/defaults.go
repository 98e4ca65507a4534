package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 180 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 150 * time.Second

	// Limits defaults
	DefaultLimitsThreshold             = 0.8
	DefaultGenerationTokensPerMinute   = int64(200000)
	DefaultGenerationTokensPerDay      = int64(2000000)
	DefaultGenerationRequestsPerMinute = int64(500)
	DefaultSearchRequestsPerMinute     = int64(100)
	DefaultLimitsStorageBackend        = "sqlite"
	DefaultLimitsSQLitePath            = "data/counters.db"
	DefaultSQLiteBusyTimeout           = 5 * time.Second

	// Cache defaults
	DefaultCacheEnabled    = true
	DefaultCacheBackend    = "memory"
	DefaultCacheBaseTTL    = time.Hour
	DefaultCacheRecencyTTL = 10 * time.Minute
	DefaultCacheMaxEntries = 10000
	DefaultCacheSQLitePath = "data/cache.db"

	// Retrieval defaults
	DefaultEmbeddingModel    = "text-embedding-3-small"
	DefaultLookupConcurrency = 4
	DefaultQdrantHost        = "localhost"
	DefaultQdrantPort        = 6334
	DefaultQdrantCollection  = "passages"

	// Search defaults
	DefaultSearchProvider = "tavily"
	DefaultSearchBaseURL  = "https://api.tavily.com"
	DefaultSearchTimeout  = 20 * time.Second

	// Generation defaults
	DefaultGenerationModel   = "gpt-4o-mini"
	DefaultGenerationTimeout = 60 * time.Second
	DefaultCharsPerToken     = 4.0

	// Retry defaults
	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 250 * time.Millisecond
	DefaultRetryMaxDelay    = 5 * time.Second
	DefaultRetryJitter      = 0.5

	// Retention defaults
	DefaultPruneSchedule = "0 3 * * *"

	// Reload defaults
	DefaultReloadDebounce = 200 * time.Millisecond

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "sextant"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 0.1
	DefaultServiceName        = "sextant"
	DefaultHealthCheckTimeout = 3 * time.Second
)

// DefaultRecencyTerms marks a question as recency-sensitive.
var DefaultRecencyTerms = []string{
	"news", "latest", "today", "current", "recent", "this week", "breaking", "update",
}

// DefaultDurationBuckets are histogram buckets in seconds.
var DefaultDurationBuckets = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// DefaultModes returns the built-in budgets for every mode.
func DefaultModes() ModesConfig {
	return ModesConfig{
		Auto: ModeConfig{
			TokenCeiling:       2500,
			MaxSteps:           3,
			MinOutputChars:     10,
			StepCeilings:       map[string]int{"synthesize": 2500},
			StepTimeout:        20 * time.Second,
			TopK:               3,
			SearchDepth:        "basic",
			MaxSearchResults:   3,
			CacheTTLMultiplier: 1,
		},
		Medium: ModeConfig{
			TokenCeiling:       8000,
			MaxSteps:           6,
			MinOutputChars:     50,
			StepCeilings:       map[string]int{"extract": 3000, "synthesize": 5000},
			StepTimeout:        30 * time.Second,
			TopK:               5,
			SearchDepth:        "basic",
			MaxSearchResults:   5,
			CacheTTLMultiplier: 1.5,
		},
		Deep: ModeConfig{
			TokenCeiling:   20000,
			MaxSteps:       3,
			MinOutputChars: 150,
			StepCeilings: map[string]int{
				"research":    4000,
				"enhance":     6000,
				"deep_dive_1": 4000,
				"deep_dive_2": 4000,
				"synthesize":  8000,
			},
			StepTimeout:        45 * time.Second,
			TopK:               8,
			SearchDepth:        "advanced",
			MaxSearchResults:   8,
			GapThreshold:       2,
			FanOut:             2,
			BranchTimeout:      40 * time.Second,
			CacheTTLMultiplier: 2,
		},
		Workflow: ModeConfig{
			TokenCeiling:   24000,
			MaxSteps:       4,
			MinOutputChars: 150,
			StepCeilings: map[string]int{
				"plan":        2000,
				"research":    4000,
				"enhance":     6000,
				"deep_dive_1": 4000,
				"deep_dive_2": 4000,
				"synthesize":  8000,
			},
			StepTimeout:        45 * time.Second,
			TopK:               8,
			SearchDepth:        "advanced",
			MaxSearchResults:   8,
			GapThreshold:       2,
			FanOut:             2,
			BranchTimeout:      40 * time.Second,
			CacheTTLMultiplier: 2,
		},
	}
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
// Booleans cannot be distinguished from an explicit false here; LoadConfig
// decodes on top of NewDefaultConfig so that omitted booleans keep theirs.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyModesDefaults(&cfg.Modes)
	applyLimitsDefaults(&cfg.Limits)
	applyCacheDefaults(&cfg.Cache)
	applyRetrievalDefaults(&cfg.Retrieval)
	applySearchDefaults(&cfg.Search)
	applyGenerationDefaults(&cfg.Generation)
	applyRetryDefaults(&cfg.Retry)
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}
	applyTelemetryDefaults(&cfg.Telemetry)
}

// NewDefaultConfig returns a configuration with every default applied,
// including boolean defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Cache.Enabled = DefaultCacheEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Insecure = true
	ApplyDefaults(cfg)
	return cfg
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
}

func applyModesDefaults(m *ModesConfig) {
	defaults := DefaultModes()
	mergeMode(&m.Auto, defaults.Auto)
	mergeMode(&m.Medium, defaults.Medium)
	mergeMode(&m.Deep, defaults.Deep)
	mergeMode(&m.Workflow, defaults.Workflow)
}

// mergeMode fills unset fields of m from d. Step ceilings are merged per step.
func mergeMode(m *ModeConfig, d ModeConfig) {
	if m.TokenCeiling == 0 {
		m.TokenCeiling = d.TokenCeiling
	}
	if m.MaxSteps == 0 {
		m.MaxSteps = d.MaxSteps
	}
	if m.MinOutputChars == 0 {
		m.MinOutputChars = d.MinOutputChars
	}
	if m.StepCeilings == nil {
		m.StepCeilings = make(map[string]int, len(d.StepCeilings))
	}
	for step, ceiling := range d.StepCeilings {
		if _, ok := m.StepCeilings[step]; !ok {
			m.StepCeilings[step] = ceiling
		}
	}
	if m.StepTimeout == 0 {
		m.StepTimeout = d.StepTimeout
	}
	if m.TopK == 0 {
		m.TopK = d.TopK
	}
	if m.SearchDepth == "" {
		m.SearchDepth = d.SearchDepth
	}
	if m.MaxSearchResults == 0 {
		m.MaxSearchResults = d.MaxSearchResults
	}
	if m.GapThreshold == 0 {
		m.GapThreshold = d.GapThreshold
	}
	if m.FanOut == 0 {
		m.FanOut = d.FanOut
	}
	if m.BranchTimeout == 0 {
		m.BranchTimeout = d.BranchTimeout
	}
	if m.CacheTTLMultiplier == 0 {
		m.CacheTTLMultiplier = d.CacheTTLMultiplier
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if l.Threshold == 0 {
		l.Threshold = DefaultLimitsThreshold
	}
	if l.GenerationTokensPerMinute == 0 {
		l.GenerationTokensPerMinute = DefaultGenerationTokensPerMinute
	}
	if l.GenerationTokensPerDay == 0 {
		l.GenerationTokensPerDay = DefaultGenerationTokensPerDay
	}
	if l.GenerationRequestsPerMinute == 0 {
		l.GenerationRequestsPerMinute = DefaultGenerationRequestsPerMinute
	}
	if l.SearchRequestsPerMinute == 0 {
		l.SearchRequestsPerMinute = DefaultSearchRequestsPerMinute
	}
	if l.Storage.Backend == "" {
		l.Storage.Backend = DefaultLimitsStorageBackend
	}
	if l.Storage.SQLite.Path == "" {
		l.Storage.SQLite.Path = DefaultLimitsSQLitePath
	}
	if l.Storage.SQLite.BusyTimeout == 0 {
		l.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Backend == "" {
		c.Backend = DefaultCacheBackend
	}
	if c.BaseTTL == 0 {
		c.BaseTTL = DefaultCacheBaseTTL
	}
	if c.RecencyTTL == 0 {
		c.RecencyTTL = DefaultCacheRecencyTTL
	}
	if len(c.RecencyTerms) == 0 {
		c.RecencyTerms = append([]string(nil), DefaultRecencyTerms...)
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultCacheMaxEntries
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = DefaultCacheSQLitePath
	}
	if c.SQLite.BusyTimeout == 0 {
		c.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}

func applyRetrievalDefaults(r *RetrievalConfig) {
	if r.EmbeddingModel == "" {
		r.EmbeddingModel = DefaultEmbeddingModel
	}
	if r.LookupConcurrency == 0 {
		r.LookupConcurrency = DefaultLookupConcurrency
	}
	if r.Qdrant.Host == "" {
		r.Qdrant.Host = DefaultQdrantHost
	}
	if r.Qdrant.Port == 0 {
		r.Qdrant.Port = DefaultQdrantPort
	}
	if r.Qdrant.Collection == "" {
		r.Qdrant.Collection = DefaultQdrantCollection
	}
}

func applySearchDefaults(s *SearchConfig) {
	if s.Provider == "" {
		s.Provider = DefaultSearchProvider
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultSearchBaseURL
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultSearchTimeout
	}
}

func applyGenerationDefaults(g *GenerationConfig) {
	if g.Model == "" {
		g.Model = DefaultGenerationModel
	}
	if g.Timeout == 0 {
		g.Timeout = DefaultGenerationTimeout
	}
	if g.CharsPerToken == 0 {
		g.CharsPerToken = DefaultCharsPerToken
	}
}

func applyRetryDefaults(r *RetryConfig) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultRetryMaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = DefaultRetryBaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = DefaultRetryMaxDelay
	}
	if r.Jitter == 0 {
		r.Jitter = DefaultRetryJitter
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.DurationBuckets) == 0 {
		t.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultServiceName
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
