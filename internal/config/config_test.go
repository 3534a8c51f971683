package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestDefaultConfigIsValid(t *testing.T) {
	if err := validate(DefaultConfig()); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	d := DefaultConfig()
	if d.Server.Host != "127.0.0.1" {
		t.Errorf("default bind host = %q, want loopback", d.Server.Host)
	}
	if d.Server.MaxResponseBytes != 100_000 {
		t.Errorf("max_response_bytes = %d", d.Server.MaxResponseBytes)
	}
	if d.Limits.SessionIdleTTL != 3600 {
		t.Errorf("session_idle_ttl = %d", d.Limits.SessionIdleTTL)
	}
	if d.Limits.SweepInterval != 60 {
		t.Errorf("sweep_interval = %d", d.Limits.SweepInterval)
	}
	if d.Limits.SensitiveRateLimits["default"] != 8 {
		t.Errorf("default rate limit = %d", d.Limits.SensitiveRateLimits["default"])
	}
	if d.Limits.SensitiveRateLimits["linkedin.com"] != 4 {
		t.Errorf("linkedin rate limit = %d", d.Limits.SensitiveRateLimits["linkedin.com"])
	}
	if !d.Browser.Headless || !d.Browser.EvaluateEnabled {
		t.Error("headless and evaluate should default on")
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browserd.toml")
	content := `
[server]
port = 9001
log_level = "debug"

[browser]
humanize = true
humanize_intensity = 1.5

[limits]
max_sessions = 4
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 || cfg.Server.LogLevel != "debug" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Browser.Humanize || cfg.Browser.HumanizeIntensity != 1.5 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Limits.MaxSessions != 4 {
		t.Errorf("max_sessions = %d", cfg.Limits.MaxSessions)
	}
	// Untouched keys keep defaults.
	if cfg.Limits.MaxBatch != DefaultMaxBatch {
		t.Errorf("max_batch = %d, want default", cfg.Limits.MaxBatch)
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browserd.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid port should fail validation")
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate_Errors(t *testing.T) {
	mutations := []func(*Config){
		func(c *Config) { c.Server.Port = 0 },
		func(c *Config) { c.Server.LogLevel = "loud" },
		func(c *Config) { c.Server.DataDir = "" },
		func(c *Config) { c.Server.MaxResponseBytes = 10 },
		func(c *Config) { c.Auth.Enabled = true; c.Auth.Token = "" },
		func(c *Config) { c.Browser.HumanizeIntensity = 5 },
		func(c *Config) { c.Browser.Geo = "atlantis" },
		func(c *Config) { c.Browser.WebMCP = "maybe" },
		func(c *Config) { c.Limits.MaxBatch = 0 },
		func(c *Config) { c.Limits.SensitiveRateLimits = map[string]int{"x.com": 0} },
		func(c *Config) { c.Tracing.SampleRate = 2 },
	}
	for i, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("mutation %d should fail validation", i)
		}
	}
}

// ---------------------------------------------------------------------------
// Geo
// ---------------------------------------------------------------------------

func TestGeo_KnownAndFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.Geo = "de"
	if got := cfg.Geo(); got.Timezone != "Europe/Berlin" || got.Locale != "de-DE" {
		t.Errorf("geo de = %+v", got)
	}

	cfg.Browser.Geo = ""
	if got := cfg.Geo(); got.Timezone != "America/New_York" || got.Locale != "en-US" {
		t.Errorf("geo fallback = %+v", got)
	}
}
