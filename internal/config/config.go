package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for browserd.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   toml:"server"`
	Auth     AuthConfig     `mapstructure:"auth"     toml:"auth"`
	Browser  BrowserConfig  `mapstructure:"browser"  toml:"browser"`
	Proxy    ProxyConfig    `mapstructure:"proxy"    toml:"proxy"`
	Solver   SolverConfig   `mapstructure:"solver"   toml:"solver"`
	Limits   LimitsConfig   `mapstructure:"limits"   toml:"limits"`
	Profiles ProfilesConfig `mapstructure:"profiles" toml:"profiles"`
	Store    StoreConfig    `mapstructure:"store"    toml:"store"`
	Tracing  TracingConfig  `mapstructure:"tracing"  toml:"tracing"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	Port             int    `mapstructure:"port"               toml:"port"`
	Host             string `mapstructure:"host"               toml:"host"`
	LogLevel         string `mapstructure:"log_level"          toml:"log_level"`
	DataDir          string `mapstructure:"data_dir"           toml:"data_dir"`
	ReadTimeout      int    `mapstructure:"read_timeout"       toml:"read_timeout"`
	WriteTimeout     int    `mapstructure:"write_timeout"      toml:"write_timeout"`
	IdleTimeout      int    `mapstructure:"idle_timeout"       toml:"idle_timeout"`
	MaxResponseBytes int    `mapstructure:"max_response_bytes" toml:"max_response_bytes"`
}

// AuthConfig holds the API authentication settings. Token may be the
// literal bearer token or a vault key reference (keyring://browserd/auth,
// env:VAR, file:///path).
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Token   string `mapstructure:"token"   toml:"token"`
}

// BrowserConfig holds browser runtime defaults shared by all tiers.
type BrowserConfig struct {
	Headless          bool    `mapstructure:"headless"           toml:"headless"`
	ViewportWidth     int     `mapstructure:"viewport_width"     toml:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"    toml:"viewport_height"`
	NavigationTimeout int     `mapstructure:"navigation_timeout" toml:"navigation_timeout"` // seconds
	ActionTimeout     int     `mapstructure:"action_timeout"     toml:"action_timeout"`     // seconds
	EvaluateEnabled   bool    `mapstructure:"evaluate_enabled"   toml:"evaluate_enabled"`
	Humanize          bool    `mapstructure:"humanize"           toml:"humanize"`
	HumanizeIntensity float64 `mapstructure:"humanize_intensity" toml:"humanize_intensity"`
	Geo               string  `mapstructure:"geo"                toml:"geo"`
	WebMCP            string  `mapstructure:"webmcp"             toml:"webmcp"` // "auto", "1", "0"
	ChromeChannel     string  `mapstructure:"chrome_channel"     toml:"chrome_channel"`
	ChromeExecutable  string  `mapstructure:"chrome_executable"  toml:"chrome_executable"`
}

// NavigationTimeoutDuration returns the navigation timeout as a time.Duration.
func (b BrowserConfig) NavigationTimeoutDuration() time.Duration {
	if b.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.NavigationTimeout) * time.Second
}

// ActionTimeoutDuration returns the per-action timeout as a time.Duration.
func (b BrowserConfig) ActionTimeoutDuration() time.Duration {
	if b.ActionTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.ActionTimeout) * time.Second
}

// ProxyConfig holds the optional upstream proxy used by the stealth tiers.
type ProxyConfig struct {
	Server   string `mapstructure:"server"   toml:"server"`
	Username string `mapstructure:"username" toml:"username"`
	Password string `mapstructure:"password" toml:"password"`
}

// SolverConfig holds CAPTCHA solver key references. Values are resolved
// through the vault at daemon start (keyring://browserd/<name>, env:VAR,
// file:///path, or a literal key).
type SolverConfig struct {
	CapSolverKeyRef  string `mapstructure:"capsolver_key_ref"  toml:"capsolver_key_ref"`
	TwoCaptchaKeyRef string `mapstructure:"twocaptcha_key_ref" toml:"twocaptcha_key_ref"`
}

// LimitsConfig groups quota and protection-related knobs.
type LimitsConfig struct {
	SensitiveRateLimits map[string]int `mapstructure:"sensitive_rate_limits" toml:"sensitive_rate_limits"`
	SessionIdleTTL      int            `mapstructure:"session_idle_ttl"      toml:"session_idle_ttl"` // seconds
	SweepInterval       int            `mapstructure:"sweep_interval"        toml:"sweep_interval"`   // seconds
	MaxSessions         int            `mapstructure:"max_sessions"          toml:"max_sessions"`
	MaxBatch            int            `mapstructure:"max_batch"             toml:"max_batch"`
	LoopWindow          int            `mapstructure:"loop_window"           toml:"loop_window"`
	LoopThreshold       int            `mapstructure:"loop_threshold"        toml:"loop_threshold"`
	MaxSnapshotDepth    int            `mapstructure:"max_snapshot_depth"    toml:"max_snapshot_depth"`
	FSMDeadlines        map[string]int `mapstructure:"fsm_deadlines"         toml:"fsm_deadlines"` // state name -> ms
}

// ProfilesConfig holds the on-disk identity store location.
type ProfilesConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
}

// StoreConfig controls the SQLite store.
type StoreConfig struct {
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "browserd"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (BROWSERD_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.browserd/browserd.toml
//  4. ./browserd.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: BROWSERD_SERVER_PORT etc.
	v.SetEnvPrefix("BROWSERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".browserd"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("browserd")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in path settings.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Profiles.Dir = expandHome(cfg.Profiles.Dir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.browserd/browserd.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".browserd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_response_bytes", d.Server.MaxResponseBytes)

	// Auth
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	// Browser
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.navigation_timeout", d.Browser.NavigationTimeout)
	v.SetDefault("browser.action_timeout", d.Browser.ActionTimeout)
	v.SetDefault("browser.evaluate_enabled", d.Browser.EvaluateEnabled)
	v.SetDefault("browser.humanize", d.Browser.Humanize)
	v.SetDefault("browser.humanize_intensity", d.Browser.HumanizeIntensity)
	v.SetDefault("browser.geo", d.Browser.Geo)
	v.SetDefault("browser.webmcp", d.Browser.WebMCP)
	v.SetDefault("browser.chrome_channel", d.Browser.ChromeChannel)
	v.SetDefault("browser.chrome_executable", d.Browser.ChromeExecutable)

	// Proxy
	v.SetDefault("proxy.server", d.Proxy.Server)
	v.SetDefault("proxy.username", d.Proxy.Username)
	v.SetDefault("proxy.password", d.Proxy.Password)

	// Solver
	v.SetDefault("solver.capsolver_key_ref", d.Solver.CapSolverKeyRef)
	v.SetDefault("solver.twocaptcha_key_ref", d.Solver.TwoCaptchaKeyRef)

	// Limits
	v.SetDefault("limits.sensitive_rate_limits", d.Limits.SensitiveRateLimits)
	v.SetDefault("limits.session_idle_ttl", d.Limits.SessionIdleTTL)
	v.SetDefault("limits.sweep_interval", d.Limits.SweepInterval)
	v.SetDefault("limits.max_sessions", d.Limits.MaxSessions)
	v.SetDefault("limits.max_batch", d.Limits.MaxBatch)
	v.SetDefault("limits.loop_window", d.Limits.LoopWindow)
	v.SetDefault("limits.loop_threshold", d.Limits.LoopThreshold)
	v.SetDefault("limits.max_snapshot_depth", d.Limits.MaxSnapshotDepth)
	v.SetDefault("limits.fsm_deadlines", d.Limits.FSMDeadlines)

	// Profiles
	v.SetDefault("profiles.dir", d.Profiles.Dir)

	// Store
	v.SetDefault("store.retention_days", d.Store.RetentionDays)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
