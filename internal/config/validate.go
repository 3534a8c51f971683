package config

import (
	"fmt"
	"strings"
)

// ValidLogLevels are the accepted server.log_level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal"}

// ValidWebMCPModes are the accepted browser.webmcp values.
var ValidWebMCPModes = []string{"auto", "1", "0"}

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxResponseBytes < 1024 {
		errs = append(errs, fmt.Sprintf("server.max_response_bytes must be at least 1024, got %d", cfg.Server.MaxResponseBytes))
	}

	// Auth validation
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		errs = append(errs, "auth.token must be set when auth.enabled is true")
	}

	// Browser validation
	if cfg.Browser.ViewportWidth < 1 || cfg.Browser.ViewportHeight < 1 {
		errs = append(errs, fmt.Sprintf("browser.viewport must be positive, got %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight))
	}
	if cfg.Browser.NavigationTimeout < 0 {
		errs = append(errs, fmt.Sprintf("browser.navigation_timeout must be non-negative, got %d", cfg.Browser.NavigationTimeout))
	}
	if cfg.Browser.ActionTimeout < 0 {
		errs = append(errs, fmt.Sprintf("browser.action_timeout must be non-negative, got %d", cfg.Browser.ActionTimeout))
	}
	if cfg.Browser.HumanizeIntensity < 0 || cfg.Browser.HumanizeIntensity > 2.0 {
		errs = append(errs, fmt.Sprintf("browser.humanize_intensity must be between 0 and 2.0, got %.2f", cfg.Browser.HumanizeIntensity))
	}
	if !isValidEnum(cfg.Browser.WebMCP, ValidWebMCPModes) {
		errs = append(errs, fmt.Sprintf("browser.webmcp must be one of %v, got %q", ValidWebMCPModes, cfg.Browser.WebMCP))
	}
	if cfg.Browser.Geo != "" {
		if _, ok := GeoProfiles[cfg.Browser.Geo]; !ok {
			errs = append(errs, fmt.Sprintf("browser.geo %q is not a known geo profile", cfg.Browser.Geo))
		}
	}

	// Limits validation
	if cfg.Limits.SessionIdleTTL < 1 {
		errs = append(errs, fmt.Sprintf("limits.session_idle_ttl must be at least 1, got %d", cfg.Limits.SessionIdleTTL))
	}
	if cfg.Limits.SweepInterval < 1 {
		errs = append(errs, fmt.Sprintf("limits.sweep_interval must be at least 1, got %d", cfg.Limits.SweepInterval))
	}
	if cfg.Limits.MaxSessions < 1 {
		errs = append(errs, fmt.Sprintf("limits.max_sessions must be at least 1, got %d", cfg.Limits.MaxSessions))
	}
	if cfg.Limits.MaxBatch < 1 {
		errs = append(errs, fmt.Sprintf("limits.max_batch must be at least 1, got %d", cfg.Limits.MaxBatch))
	}
	if cfg.Limits.LoopWindow < 2 {
		errs = append(errs, fmt.Sprintf("limits.loop_window must be at least 2, got %d", cfg.Limits.LoopWindow))
	}
	if cfg.Limits.LoopThreshold < 2 {
		errs = append(errs, fmt.Sprintf("limits.loop_threshold must be at least 2, got %d", cfg.Limits.LoopThreshold))
	}
	if cfg.Limits.MaxSnapshotDepth < 1 {
		errs = append(errs, fmt.Sprintf("limits.max_snapshot_depth must be at least 1, got %d", cfg.Limits.MaxSnapshotDepth))
	}
	for domain, limit := range cfg.Limits.SensitiveRateLimits {
		if limit < 1 {
			errs = append(errs, fmt.Sprintf("limits.sensitive_rate_limits[%q] must be at least 1, got %d", domain, limit))
		}
	}

	// Profiles validation
	if cfg.Profiles.Dir == "" {
		errs = append(errs, "profiles.dir must not be empty")
	}

	// Store validation
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("store.retention_days must be at least 1, got %d", cfg.Store.RetentionDays))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
