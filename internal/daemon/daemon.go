// Package daemon wires every subsystem together and runs the service
// until a shutdown signal arrives.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/browserd/internal/actions"
	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/config"
	"github.com/allaspectsdev/browserd/internal/fingerprint"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/ratelimit"
	"github.com/allaspectsdev/browserd/internal/server"
	"github.com/allaspectsdev/browserd/internal/session"
	"github.com/allaspectsdev/browserd/internal/snapshot"
	"github.com/allaspectsdev/browserd/internal/solver"
	"github.com/allaspectsdev/browserd/internal/store"
	"github.com/allaspectsdev/browserd/internal/tracing"
	"github.com/allaspectsdev/browserd/internal/vault"
	"github.com/allaspectsdev/browserd/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the API server and the session sweeper, and blocks until a
// shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "browserd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().Str("service", "browserd").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("browserd starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("browserd is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open store.
	dbPath := filepath.Join(dataDir, "browserd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	// 5. Start tracing.
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.ServiceName,
			version.Version, cfg.Tracing.Exporter, cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("tracing init failed; continuing without tracing")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// 6. Resolve secrets through the vault.
	v := vault.New()
	authToken := ""
	if cfg.Auth.Enabled {
		authToken, err = v.ResolveKeyRef(cfg.Auth.Token)
		if err != nil {
			return fmt.Errorf("resolving auth token: %w", err)
		}
	}
	capSolverKey, err := v.ResolveOptional(cfg.Solver.CapSolverKeyRef)
	if err != nil {
		log.Warn().Err(err).Msg("capsolver key unresolvable; solver disabled")
	}
	twoCaptchaKey, err := v.ResolveOptional(cfg.Solver.TwoCaptchaKeyRef)
	if err != nil {
		log.Warn().Err(err).Msg("2captcha key unresolvable; solver disabled")
	}

	// 7. Profile store and caches.
	profiles, err := profile.NewStore(cfg.Profiles.Dir)
	if err != nil {
		return fmt.Errorf("opening profile store: %w", err)
	}
	domainTiers, err := profile.NewDomainTiers(profiles.Root())
	if err != nil {
		return fmt.Errorf("opening domain tier cache: %w", err)
	}

	// 8. Browser tier registry with the per-domain identity seed.
	geo := cfg.Geo()
	var proxy *browser.Proxy
	if cfg.Proxy.Server != "" {
		proxy = &browser.Proxy{
			Server:   cfg.Proxy.Server,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}
	fpManager := fingerprint.NewManager(st)
	var firefoxPrefs map[string]any
	if identity, err := fpManager.GetOrCreate("default", cfg.Browser.Geo); err == nil {
		firefoxPrefs = fingerprint.FirefoxPrefs(identity)
	}
	tiers := browser.NewRegistry(browser.TierOptions{
		Headless:         cfg.Browser.Headless,
		Locale:           geo.Locale,
		Timezone:         geo.Timezone,
		DefaultViewport:  browser.Size{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		Proxy:            proxy,
		ChromeChannel:    cfg.Browser.ChromeChannel,
		ChromeExecutable: cfg.Browser.ChromeExecutable,
		FirefoxPrefs:     firefoxPrefs,
	})

	// 9. Snapshot engine, session registry, rate limiter, dispatcher.
	snapEngine, err := snapshot.NewEngine()
	if err != nil {
		return fmt.Errorf("creating snapshot engine: %w", err)
	}
	registry := session.NewRegistry(session.Options{
		MaxSessions:       cfg.Limits.MaxSessions,
		IdleTTL:           time.Duration(cfg.Limits.SessionIdleTTL) * time.Second,
		NavigationTimeout: cfg.Browser.NavigationTimeoutDuration(),
		Humanize:          cfg.Browser.Humanize,
		HumanizeIntensity: cfg.Browser.HumanizeIntensity,
		LoopWindow:        cfg.Limits.LoopWindow,
		LoopThreshold:     cfg.Limits.LoopThreshold,
		FSMDeadlines:      cfg.Limits.FSMDeadlines,
		DownloadRoot:      filepath.Join(dataDir, "downloads"),
	}, tiers, profiles, st, snapEngine)

	limiter := ratelimit.New(cfg.Limits.SensitiveRateLimits)
	solve := solver.New(capSolverKey, twoCaptchaKey)

	sensitive := make(map[string]bool, len(cfg.Limits.SensitiveRateLimits))
	for domain := range cfg.Limits.SensitiveRateLimits {
		if domain != "default" {
			sensitive[domain] = true
		}
	}
	dispatcher := actions.NewDispatcher(registry, limiter, solve, st, actions.Config{
		EvaluateEnabled:  cfg.Browser.EvaluateEnabled,
		WebMCPMode:       cfg.Browser.WebMCP,
		NavTimeout:       cfg.Browser.NavigationTimeoutDuration(),
		ActionTimeout:    cfg.Browser.ActionTimeoutDuration(),
		MaxBatch:         cfg.Limits.MaxBatch,
		MaxSnapshotDepth: cfg.Limits.MaxSnapshotDepth,
		SensitiveDomains: sensitive,
	})

	// 10. Config watcher: hot-reload log level and rate-limit tables.
	if configFile := config.ConfigFilePath(); configFile != "" {
		if w, watchErr := config.Watch(configFile); watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer w.Close()
			w.OnChange(func(old, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				limiter.SetLimits(newCfg.Limits.SensitiveRateLimits)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 11. Background tasks: session sweeper + store pruner.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	sweeperDone := registry.StartSweeper(bgCtx, time.Duration(cfg.Limits.SweepInterval)*time.Second)
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(bgCtx, st, cfg.Store.RetentionDays)
	}()

	// 12. HTTP server.
	handler := server.NewHandler(registry, dispatcher, profiles, domainTiers, cfg.Server.MaxResponseBytes)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.NewServer(handler, addr, authToken,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		time.Duration(cfg.Server.IdleTimeout)*time.Second,
		cfg.Tracing.Enabled,
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Bool("auth", authToken != "").Msg("api server starting")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if foreground {
		fmt.Printf("\n  browserd is running!\n")
		fmt.Printf("  API: http://%s\n\n", addr)
	}
	log.Info().Int("port", cfg.Server.Port).Msg("browserd is ready")

	// 13. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 14. Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// Close every session so no browser processes are orphaned.
	registry.CloseAll()

	bgCancel()
	<-sweeperDone
	<-prunerDone
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("browserd stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := config.Get().Server.DataDir

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("browserd does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("browserd is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to browserd (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := cfg.Server.DataDir

	if !IsRunning(dataDir) {
		fmt.Println("browserd is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("browserd is running (PID %d)\n", pid)

	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Println("  (api unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var health struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return nil
	}

	fmt.Printf("\n  Status:          %s\n", health.Status)
	fmt.Printf("  Active Sessions: %d\n", health.ActiveSessions)
	return nil
}

// runPruner periodically prunes old data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
