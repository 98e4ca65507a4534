package config

import "sync"

var (
	// globalConfig holds the process-wide configuration used by cmd.
	globalConfig *Config

	// configMutex protects access to globalConfig.
	configMutex sync.RWMutex

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once
)

// Initialize loads configuration from path with environment overrides and
// stores it as the process-wide configuration. An empty path builds the
// configuration from defaults and environment only. Subsequent calls are
// ignored.
//
// Core packages never call GetConfig; they receive their settings through
// constructors.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		var cfg *Config
		var err error
		if path == "" {
			cfg, err = LoadFromEnv()
		} else {
			cfg, err = LoadConfigWithEnvOverrides(path)
		}
		if err != nil {
			initErr = err
			return
		}
		SetConfig(cfg)
	})

	return initErr
}

// GetConfig returns the process-wide configuration, or nil before Initialize.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig replaces the process-wide configuration. Used by the reload
// watcher and by tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}
