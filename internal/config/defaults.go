package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the API server.
const DefaultPort = 8500

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.browserd"

// DefaultProfilesDir is the default identity-profile root (before tilde expansion).
const DefaultProfilesDir = "~/.browserd/profiles"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "browserd.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 30

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) to accommodate slow navigations and CAPTCHA solving.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxResponseBytes is the hard cap on a serialized API response.
const DefaultMaxResponseBytes = 100_000

// DefaultNavigationTimeout is the navigation timeout in seconds.
const DefaultNavigationTimeout = 30

// DefaultActionTimeout is the per-element action timeout in seconds.
const DefaultActionTimeout = 10

// DefaultSessionIdleTTL is the idle age in seconds after which a session is reaped.
const DefaultSessionIdleTTL = 3600

// DefaultSweepInterval is the interval in seconds between GC sweeps.
const DefaultSweepInterval = 60

// DefaultMaxSessions is the maximum number of concurrent sessions.
const DefaultMaxSessions = 10

// DefaultMaxBatch is the maximum number of steps in one batch request.
const DefaultMaxBatch = 20

// DefaultLoopWindow is the size of the loop-detector rolling window.
const DefaultLoopWindow = 10

// DefaultLoopThreshold is the repeat count that starts loop warnings.
const DefaultLoopThreshold = 3

// DefaultMaxSnapshotDepth is the maximum accessibility-tree depth rendered.
const DefaultMaxSnapshotDepth = 10

// DefaultRetentionDays is the default store retention in days.
const DefaultRetentionDays = 30

// DefaultConfig returns a Config populated with all defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             DefaultPort,
			Host:             DefaultBindAddress,
			LogLevel:         DefaultLogLevel,
			DataDir:          DefaultDataDir,
			ReadTimeout:      DefaultReadTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			IdleTimeout:      DefaultIdleTimeout,
			MaxResponseBytes: DefaultMaxResponseBytes,
		},
		Auth: AuthConfig{
			Enabled: false,
			Token:   "",
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: DefaultNavigationTimeout,
			ActionTimeout:     DefaultActionTimeout,
			EvaluateEnabled:   true,
			Humanize:          false,
			HumanizeIntensity: 1.0,
			Geo:               "",
			WebMCP:            "auto",
		},
		Solver: SolverConfig{},
		Limits: LimitsConfig{
			SensitiveRateLimits: map[string]int{
				"default":       8,
				"linkedin.com":  4,
				"facebook.com":  5,
				"twitter.com":   6,
				"x.com":         6,
				"instagram.com": 4,
			},
			SessionIdleTTL:   DefaultSessionIdleTTL,
			SweepInterval:    DefaultSweepInterval,
			MaxSessions:      DefaultMaxSessions,
			MaxBatch:         DefaultMaxBatch,
			LoopWindow:       DefaultLoopWindow,
			LoopThreshold:    DefaultLoopThreshold,
			MaxSnapshotDepth: DefaultMaxSnapshotDepth,
			FSMDeadlines: map[string]int{
				"LAUNCHING":    60_000,
				"OBSERVING":    30_000,
				"ACTING":       30_000,
				"RECOVERING":   15_000,
				"TEARING_DOWN": 10_000,
			},
		},
		Profiles: ProfilesConfig{
			Dir: DefaultProfilesDir,
		},
		Store: StoreConfig{
			RetentionDays: DefaultRetentionDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "browserd",
			SampleRate:  1.0,
		},
	}
}
