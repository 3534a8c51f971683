package browser

import (
	"context"
	"os"
	"sort"
	"sync"
)

// pinnedChromeUA is the user agent Tier 1 advertises. Tiers 2 and 3 do
// not override the UA: their backends supply a stealthier one.
const pinnedChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/131.0.0.0 Safari/537.36"

// stealthChromiumArgs hide the most common automation markers on Tier 2.
var stealthChromiumArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
	"--no-default-browser-check",
	"--no-first-run",
}

// TierOptions are the launch parameters shared by all tiers, resolved
// once from config at daemon start.
type TierOptions struct {
	Headless         bool
	Locale           string
	Timezone         string
	DefaultViewport  Size
	Proxy            *Proxy
	ChromeChannel    string
	ChromeExecutable string

	// FirefoxPrefs feed the Tier 3 fingerprint spoofing. Populated from
	// the per-domain identity when one exists.
	FirefoxPrefs map[string]any
}

func (o TierOptions) viewport(opts InitOptions) *Size {
	if opts.Viewport != nil {
		return opts.Viewport
	}
	vp := o.DefaultViewport
	if vp.Width == 0 || vp.Height == 0 {
		vp = Size{Width: 1920, Height: 1080}
	}
	return &vp
}

func storagePath(opts InitOptions) string {
	if opts.ProfilePath == "" {
		return ""
	}
	return opts.ProfilePath + string(os.PathSeparator) + "storage.json"
}

// ---------------------------------------------------------------------------
// Tier 1: plain Chromium
// ---------------------------------------------------------------------------

// tier1 is the baseline: plain runtime, pinned user agent, configured
// locale and timezone, no tracker filtering, no stealth patches.
type tier1 struct {
	opts TierOptions
}

func (t *tier1) Number() int  { return 1 }
func (t *tier1) Name() string { return "chromium" }
func (t *tier1) Detect() bool { return runtimeAvailable() }

func (t *tier1) Init(ctx context.Context, opts InitOptions) (*Resources, error) {
	res, err := await(ctx, func() (*Resources, error) {
		return launchRuntime(launchConfig{
			engine:           "chromium",
			headless:         t.opts.Headless,
			channel:          t.opts.ChromeChannel,
			executablePath:   t.opts.ChromeExecutable,
			userAgent:        pinnedChromeUA,
			locale:           t.opts.Locale,
			timezone:         t.opts.Timezone,
			viewport:         t.opts.viewport(opts),
			storageStatePath: storagePath(opts),
		})
	})
	return res, err
}

func (t *tier1) Teardown(res *Resources) error { return teardown(res) }

// ---------------------------------------------------------------------------
// Tier 2: stealth-patched Chromium
// ---------------------------------------------------------------------------

// tier2 launches Chromium with automation-hiding flags. No user-agent
// override (the backend default is stealthier), proxy enabled, tracker
// filter installed. Init scripts are not injected: they are detectable
// on this tier.
type tier2 struct {
	opts TierOptions
}

func (t *tier2) Number() int  { return 2 }
func (t *tier2) Name() string { return "stealth-chromium" }
func (t *tier2) Detect() bool { return runtimeAvailable() }

func (t *tier2) Init(ctx context.Context, opts InitOptions) (*Resources, error) {
	return await(ctx, func() (*Resources, error) {
		return launchRuntime(launchConfig{
			engine:           "chromium",
			headless:         t.opts.Headless,
			channel:          t.opts.ChromeChannel,
			executablePath:   t.opts.ChromeExecutable,
			args:             stealthChromiumArgs,
			locale:           t.opts.Locale,
			timezone:         t.opts.Timezone,
			viewport:         t.opts.viewport(opts),
			proxy:            t.opts.Proxy,
			storageStatePath: storagePath(opts),
			blockTrackers:    true,
		})
	})
}

func (t *tier2) Teardown(res *Resources) error { return teardown(res) }

// ---------------------------------------------------------------------------
// Tier 3: anti-detect Firefox
// ---------------------------------------------------------------------------

// displayMu serializes the DISPLAY unset/restore around Firefox launch.
var displayMu sync.Mutex

// tier3 launches Firefox with fingerprint-spoofing preferences and
// geo-ip correlation when a proxy is configured. Firefox can fail with
// X11 errors under WSL and headless CI, so DISPLAY is unset around the
// launch.
type tier3 struct {
	opts TierOptions
}

func (t *tier3) Number() int  { return 3 }
func (t *tier3) Name() string { return "firefox-antidetect" }
func (t *tier3) Detect() bool { return runtimeAvailable() }

func (t *tier3) Init(ctx context.Context, opts InitOptions) (*Resources, error) {
	return await(ctx, func() (*Resources, error) {
		displayMu.Lock()
		savedDisplay, hadDisplay := os.LookupEnv("DISPLAY")
		os.Unsetenv("DISPLAY")
		defer func() {
			if hadDisplay {
				os.Setenv("DISPLAY", savedDisplay)
			}
			displayMu.Unlock()
		}()

		prefs := map[string]any{
			"privacy.resistFingerprinting":       false,
			"dom.webdriver.enabled":              false,
			"media.peerconnection.enabled":       false,
			"network.http.referer.XOriginPolicy": 1,
		}
		for k, v := range t.opts.FirefoxPrefs {
			prefs[k] = v
		}

		return launchRuntime(launchConfig{
			engine:           "firefox",
			headless:         t.opts.Headless,
			firefoxPrefs:     prefs,
			locale:           t.opts.Locale,
			timezone:         t.opts.Timezone,
			viewport:         t.opts.viewport(opts),
			proxy:            t.opts.Proxy,
			storageStatePath: storagePath(opts),
			blockTrackers:    true,
		})
	})
}

func (t *tier3) Teardown(res *Resources) error { return teardown(res) }

// teardown releases tier resources best-effort, swallowing individual
// errors so a dead browser cannot wedge the driver shutdown.
func teardown(res *Resources) error {
	if res == nil {
		return nil
	}
	if res.Browser != nil {
		_ = res.Browser.Close()
	}
	if res.Handle != nil {
		_ = res.Handle.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry enumerates the available tiers by number.
type Registry struct {
	tiers map[int]Tier
}

// NewRegistry builds the three concrete tiers from shared options.
func NewRegistry(opts TierOptions) *Registry {
	return &Registry{tiers: map[int]Tier{
		1: &tier1{opts: opts},
		2: &tier2{opts: opts},
		3: &tier3{opts: opts},
	}}
}

// NewRegistryWith builds a Registry from explicit tier implementations.
// Used by tests to substitute fakes.
func NewRegistryWith(tiers ...Tier) *Registry {
	m := make(map[int]Tier, len(tiers))
	for _, t := range tiers {
		m[t.Number()] = t
	}
	return &Registry{tiers: m}
}

// Get returns the tier for a number.
func (r *Registry) Get(n int) (Tier, bool) {
	t, ok := r.tiers[n]
	return t, ok
}

// Available probes each tier's Detect and returns the numbers that
// report ready, sorted ascending.
func (r *Registry) Available() []int {
	var out []int
	for n, t := range r.tiers {
		if t.Detect() {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
