package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Optimizer.IdleTimeout != time.Second {
		t.Errorf("Optimizer.IdleTimeout = %v, want 1s", cfg.Optimizer.IdleTimeout)
	}
	if cfg.Optimizer.ViewportWidth != 1440 || cfg.Optimizer.ViewportHeight != 900 {
		t.Errorf("viewport = %dx%d, want 1440x900", cfg.Optimizer.ViewportWidth, cfg.Optimizer.ViewportHeight)
	}
	if !cfg.Settings.Watch || cfg.Settings.Path != "" {
		t.Errorf("Settings = %+v, want watch on and no path", cfg.Settings)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAGELIFT_PORT", "9090")
	t.Setenv("PAGELIFT_API_KEYS", "a, b,,c")
	t.Setenv("PAGELIFT_ESCALATION_DELAYS", "0s,1s,bogus")
	t.Setenv("PAGELIFT_IDLE_TIMEOUT", "250ms")
	t.Setenv("PAGELIFT_SETTINGS_FILE", "/etc/pagelift/settings.yaml")
	t.Setenv("PAGELIFT_RATE_BURST", "not-a-number")

	cfg := Load()
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if want := []string{"a", "b", "c"}; !slices.Equal(cfg.Auth.APIKeys, want) {
		t.Errorf("APIKeys = %v, want %v", cfg.Auth.APIKeys, want)
	}
	if want := []time.Duration{0, time.Second}; !slices.Equal(cfg.Fetch.EscalationDelays, want) {
		t.Errorf("EscalationDelays = %v, want %v", cfg.Fetch.EscalationDelays, want)
	}
	if cfg.Optimizer.IdleTimeout != 250*time.Millisecond {
		t.Errorf("IdleTimeout = %v", cfg.Optimizer.IdleTimeout)
	}
	if cfg.Settings.Path != "/etc/pagelift/settings.yaml" {
		t.Errorf("Settings.Path = %q", cfg.Settings.Path)
	}
	if cfg.RateLimit.Burst != 10 {
		t.Errorf("Burst = %d, want fallback 10", cfg.RateLimit.Burst)
	}
}
