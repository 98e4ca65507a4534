package config

import (
	"testing"
	"time"
)

func TestSetConfig_ReplacesGlobal(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })

	cfg := NewDefaultConfig()
	cfg.Reload = ReloadConfig{Watch: true, Debounce: 2 * time.Second}
	SetConfig(cfg)

	got := GetConfig()
	if got != cfg {
		t.Fatal("Expected GetConfig to return the configuration passed to SetConfig")
	}
	if !got.Reload.Watch || got.Reload.Debounce != 2*time.Second {
		t.Errorf("Expected reload section to survive, got %+v", got.Reload)
	}

	next := NewDefaultConfig()
	SetConfig(next)
	if GetConfig() != next {
		t.Error("Expected a later SetConfig to replace the configuration")
	}
}
