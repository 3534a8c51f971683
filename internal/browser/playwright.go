package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// The adapter in this file is the only code that imports the runtime
// library. Everything above it works against the interfaces in
// browser.go.

// ms converts a duration to the runtime's millisecond option format.
func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// await runs fn in a goroutine and honors ctx cancellation. The runtime
// call itself is bounded by its own timeout option; ctx is a second
// bound for callers that hold a deadline.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// ---------------------------------------------------------------------------
// Launch plumbing shared by the tiers
// ---------------------------------------------------------------------------

// launchConfig collects everything a tier needs to start the runtime.
type launchConfig struct {
	engine           string // "chromium" or "firefox"
	headless         bool
	channel          string
	executablePath   string
	args             []string
	firefoxPrefs     map[string]any
	userAgent        string
	locale           string
	timezone         string
	viewport         *Size
	proxy            *Proxy
	storageStatePath string
	blockTrackers    bool
}

type pwRuntime struct {
	pw *playwright.Playwright
}

func (r *pwRuntime) Close() error { return r.pw.Stop() }

type pwBrowser struct {
	b playwright.Browser
}

func (b *pwBrowser) Close() error { return b.b.Close() }

// launchRuntime starts the driver, launches the engine, and opens a
// context configured per cfg. On any failure the partially acquired
// resources are released before returning.
func launchRuntime(cfg launchConfig) (*Resources, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting browser runtime: %w", err)
	}

	var engine playwright.BrowserType
	switch cfg.engine {
	case "firefox":
		engine = pw.Firefox
	default:
		engine = pw.Chromium
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.headless),
	}
	if cfg.channel != "" {
		launchOpts.Channel = playwright.String(cfg.channel)
	}
	if cfg.executablePath != "" {
		launchOpts.ExecutablePath = playwright.String(cfg.executablePath)
	}
	if len(cfg.args) > 0 {
		launchOpts.Args = cfg.args
	}
	if len(cfg.firefoxPrefs) > 0 {
		launchOpts.FirefoxUserPrefs = cfg.firefoxPrefs
	}
	if cfg.proxy != nil && cfg.proxy.Server != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server:   cfg.proxy.Server,
			Username: optString(cfg.proxy.Username),
			Password: optString(cfg.proxy.Password),
		}
	}

	b, err := engine.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launching %s: %w", cfg.engine, err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if cfg.locale != "" {
		ctxOpts.Locale = playwright.String(cfg.locale)
	}
	if cfg.timezone != "" {
		ctxOpts.TimezoneId = playwright.String(cfg.timezone)
	}
	if cfg.viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: cfg.viewport.Width, Height: cfg.viewport.Height}
	}
	if cfg.userAgent != "" {
		ctxOpts.UserAgent = playwright.String(cfg.userAgent)
	}
	if cfg.storageStatePath != "" {
		if _, statErr := os.Stat(cfg.storageStatePath); statErr == nil {
			ctxOpts.StorageStatePath = playwright.String(cfg.storageStatePath)
		}
	}

	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	if cfg.blockTrackers {
		for _, pattern := range TrackerPatterns {
			if routeErr := bctx.Route(pattern, func(route playwright.Route) {
				_ = route.Abort()
			}); routeErr != nil {
				// Route registration failures are non-fatal; the tier is
				// still usable without the filter entry.
				continue
			}
		}
	}

	return &Resources{
		Handle:  &pwRuntime{pw: pw},
		Browser: &pwBrowser{b: b},
		Context: newPWContext(bctx),
	}, nil
}

// detectOnce caches whether the runtime driver starts on this system.
var (
	detectOnce   sync.Once
	detectResult bool
)

// runtimeAvailable probes the driver once per process. Advisory only; it
// never installs anything.
func runtimeAvailable() bool {
	detectOnce.Do(func() {
		pw, err := playwright.Run()
		if err != nil {
			detectResult = false
			return
		}
		_ = pw.Stop()
		detectResult = true
	})
	return detectResult
}

// FallbackScreenshot captures a URL with a throwaway Firefox instance.
// Last resort of the screenshot chain: no session cookies carry over, so
// only the public rendering of the page is captured.
func FallbackScreenshot(ctx context.Context, url string, fullPage bool) ([]byte, error) {
	return await(ctx, func() ([]byte, error) {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("starting fallback runtime: %w", err)
		}
		defer func() { _ = pw.Stop() }()

		b, err := pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("launching fallback firefox: %w", err)
		}
		defer func() { _ = b.Close() }()

		page, err := b.NewPage(playwright.BrowserNewPageOptions{
			Viewport: &playwright.Size{Width: 1920, Height: 1080},
		})
		if err != nil {
			return nil, fmt.Errorf("opening fallback page: %w", err)
		}
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(15000),
		}); err != nil {
			return nil, fmt.Errorf("fallback navigation: %w", err)
		}
		return page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(fullPage),
			Type:     playwright.ScreenshotTypePng,
		})
	})
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return playwright.String(s)
}

// ---------------------------------------------------------------------------
// Context adapter
// ---------------------------------------------------------------------------

type pwContext struct {
	ctx playwright.BrowserContext

	// wrappers keeps one stable Page wrapper per runtime page so the
	// session layer can compare Page values by identity.
	mu       sync.Mutex
	wrappers map[playwright.Page]*pwPage
}

func newPWContext(ctx playwright.BrowserContext) *pwContext {
	return &pwContext{ctx: ctx, wrappers: make(map[playwright.Page]*pwPage)}
}

func (c *pwContext) wrap(p playwright.Page) *pwPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.wrappers[p]; ok {
		return w
	}
	w := &pwPage{p: p, owner: c}
	c.wrappers[p] = w
	return w
}

func (c *pwContext) Pages() []Page {
	raw := c.ctx.Pages()
	out := make([]Page, 0, len(raw))
	for _, p := range raw {
		out = append(out, c.wrap(p))
	}
	return out
}

func (c *pwContext) NewPage() (Page, error) {
	p, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	return c.wrap(p), nil
}

func (c *pwContext) Cookies(urls ...string) ([]Cookie, error) {
	raw, err := c.ctx.Cookies(urls...)
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, ck := range raw {
		sameSite := ""
		if ck.SameSite != nil {
			sameSite = string(*ck.SameSite)
		}
		out = append(out, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HttpOnly,
			Secure:   ck.Secure,
			SameSite: sameSite,
		})
	}
	return out, nil
}

func (c *pwContext) AddCookies(cookies []Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, ck := range cookies {
		oc := playwright.OptionalCookie{
			Name:  ck.Name,
			Value: ck.Value,
		}
		if ck.URL != "" {
			oc.URL = playwright.String(ck.URL)
		}
		if ck.Domain != "" {
			oc.Domain = playwright.String(ck.Domain)
		}
		if ck.Path != "" {
			oc.Path = playwright.String(ck.Path)
		}
		if ck.Expires != 0 {
			oc.Expires = playwright.Float(ck.Expires)
		}
		if ck.HTTPOnly {
			oc.HttpOnly = playwright.Bool(true)
		}
		if ck.Secure {
			oc.Secure = playwright.Bool(true)
		}
		switch ck.SameSite {
		case "Strict":
			oc.SameSite = playwright.SameSiteAttributeStrict
		case "Lax":
			oc.SameSite = playwright.SameSiteAttributeLax
		case "None":
			oc.SameSite = playwright.SameSiteAttributeNone
		}
		converted = append(converted, oc)
	}
	if err := c.ctx.AddCookies(converted); err != nil {
		return fmt.Errorf("setting cookies: %w", err)
	}
	return nil
}

func (c *pwContext) StorageState() (json.RawMessage, error) {
	state, err := c.ctx.StorageState()
	if err != nil {
		return nil, fmt.Errorf("reading storage state: %w", err)
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding storage state: %w", err)
	}
	return raw, nil
}

// ---------------------------------------------------------------------------
// Page adapter
// ---------------------------------------------------------------------------

type pwPage struct {
	p     playwright.Page
	owner *pwContext
}

func (p *pwPage) URL() string { return p.p.URL() }

func (p *pwPage) Title() (string, error) { return p.p.Title() }

func (p *pwPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	_, err := await(ctx, func() (any, error) {
		return p.p.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   ms(timeout),
		})
	})
	return err
}

func (p *pwPage) GoBack(ctx context.Context, timeout time.Duration) (bool, error) {
	oldURL := p.p.URL()
	resp, err := await(ctx, func() (playwright.Response, error) {
		return p.p.GoBack(playwright.PageGoBackOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   ms(timeout),
		})
	})
	if err != nil {
		return false, err
	}
	// The runtime returns no response when there is no history entry.
	if resp == nil && p.p.URL() == oldURL {
		return false, nil
	}
	return true, nil
}

func (p *pwPage) AriaSnapshot(ctx context.Context) (string, error) {
	return await(ctx, func() (string, error) {
		return p.p.Locator(":root").AriaSnapshot()
	})
}

func (p *pwPage) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	return await(ctx, func() (any, error) {
		if len(args) > 0 {
			return p.p.Evaluate(js, args[0])
		}
		return p.p.Evaluate(js)
	})
}

func (p *pwPage) Frames() []Frame {
	raw := p.p.Frames()
	out := make([]Frame, 0, len(raw))
	for _, f := range raw {
		out = append(out, &pwFrame{f: f})
	}
	return out
}

func (p *pwPage) Locator(selector string) Locator {
	return &pwLocator{l: p.p.Locator(selector)}
}

func (p *pwPage) ByRole(role, name string, exact bool) Locator {
	opts := playwright.PageGetByRoleOptions{}
	if name != "" {
		opts.Name = name
		opts.Exact = playwright.Bool(exact)
	}
	return &pwLocator{l: p.p.GetByRole(playwright.AriaRole(role), opts)}
}

func (p *pwPage) Keyboard() Keyboard { return &pwKeyboard{k: p.p.Keyboard()} }

func (p *pwPage) Mouse() Mouse { return &pwMouse{m: p.p.Mouse()} }

func (p *pwPage) Screenshot(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error) {
	return await(ctx, func() ([]byte, error) {
		return p.p.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(fullPage),
			Type:     playwright.ScreenshotTypePng,
			Timeout:  ms(timeout),
		})
	})
}

func (p *pwPage) ScreenshotCDP(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return await(ctx, func() ([]byte, error) {
		cdp, err := p.owner.ctx.NewCDPSession(p.p)
		if err != nil {
			return nil, fmt.Errorf("opening CDP session: %w", err)
		}
		defer func() { _ = cdp.Detach() }()

		// Focus emulation can hang captures on headless setups; failure
		// to disable it is ignored.
		_, _ = cdp.Send("Emulation.setFocusEmulationEnabled", map[string]any{"enabled": false})

		params := map[string]any{"format": "png", "optimizeForSpeed": true}
		if fullPage {
			params["captureBeyondViewport"] = true
		}
		result, err := cdp.Send("Page.captureScreenshot", params)
		if err != nil {
			return nil, fmt.Errorf("CDP capture: %w", err)
		}
		payload, ok := result.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("CDP capture: unexpected result shape")
		}
		encoded, ok := payload["data"].(string)
		if !ok {
			return nil, fmt.Errorf("CDP capture: missing data field")
		}
		return base64.StdEncoding.DecodeString(encoded)
	})
}

func (p *pwPage) BringToFront() error { return p.p.BringToFront() }

func (p *pwPage) Close() error { return p.p.Close() }

func (p *pwPage) ViewportSize() Size {
	if vp := p.p.ViewportSize(); vp != nil {
		return Size{Width: vp.Width, Height: vp.Height}
	}
	return Size{}
}

func (p *pwPage) OnDialog(fn func(Dialog)) {
	p.p.OnDialog(func(d playwright.Dialog) {
		fn(&pwDialog{d: d})
	})
}

func (p *pwPage) OnDownload(fn func(Download)) {
	p.p.OnDownload(func(d playwright.Download) {
		fn(&pwDownload{d: d})
	})
}

func (p *pwPage) Context() Context { return p.owner }

// ---------------------------------------------------------------------------
// Frame / Locator / input adapters
// ---------------------------------------------------------------------------

type pwFrame struct {
	f playwright.Frame
}

func (f *pwFrame) URL() string { return f.f.URL() }

func (f *pwFrame) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	return await(ctx, func() (any, error) {
		if len(args) > 0 {
			return f.f.Evaluate(js, args[0])
		}
		return f.f.Evaluate(js)
	})
}

type pwLocator struct {
	l playwright.Locator
}

func (l *pwLocator) Click(ctx context.Context, timeout time.Duration) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, l.l.Click(playwright.LocatorClickOptions{Timeout: ms(timeout)})
	})
	return err
}

func (l *pwLocator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, l.l.Fill(value, playwright.LocatorFillOptions{Timeout: ms(timeout)})
	})
	return err
}

func (l *pwLocator) PressSequentially(ctx context.Context, text string, delay, timeout time.Duration) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, l.l.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
			Delay:   ms(delay),
			Timeout: ms(timeout),
		})
	})
	return err
}

func (l *pwLocator) Press(ctx context.Context, key string, timeout time.Duration) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, l.l.Press(key, playwright.LocatorPressOptions{Timeout: ms(timeout)})
	})
	return err
}

func (l *pwLocator) SelectOption(ctx context.Context, value string, timeout time.Duration) error {
	_, err := await(ctx, func() ([]string, error) {
		return l.l.SelectOption(playwright.SelectOptionValues{
			Values: &[]string{value},
		}, playwright.LocatorSelectOptionOptions{Timeout: ms(timeout)})
	})
	return err
}

func (l *pwLocator) SetInputFiles(ctx context.Context, path string) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, l.l.SetInputFiles(filepath.Clean(path))
	})
	return err
}

func (l *pwLocator) Nth(i int) Locator { return &pwLocator{l: l.l.Nth(i)} }

func (l *pwLocator) First() Locator { return &pwLocator{l: l.l.First()} }

func (l *pwLocator) Count() (int, error) { return l.l.Count() }

func (l *pwLocator) BoundingBox() (*Rect, error) {
	box, err := l.l.BoundingBox()
	if err != nil || box == nil {
		return nil, err
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (l *pwLocator) Evaluate(ctx context.Context, js string) (any, error) {
	return await(ctx, func() (any, error) {
		return l.l.Evaluate(js, nil)
	})
}

func (l *pwLocator) Locator(selector string) Locator {
	return &pwLocator{l: l.l.Locator(selector)}
}

type pwKeyboard struct {
	k playwright.Keyboard
}

func (k *pwKeyboard) Press(key string) error { return k.k.Press(key) }
func (k *pwKeyboard) Type(text string) error { return k.k.Type(text) }

type pwMouse struct {
	m playwright.Mouse
}

func (m *pwMouse) Move(x, y float64, steps int) error {
	opts := playwright.MouseMoveOptions{}
	if steps > 0 {
		opts.Steps = playwright.Int(steps)
	}
	return m.m.Move(x, y, opts)
}

func (m *pwMouse) Click(x, y float64) error { return m.m.Click(x, y) }

func (m *pwMouse) Wheel(deltaX, deltaY float64) error { return m.m.Wheel(deltaX, deltaY) }

type pwDialog struct {
	d playwright.Dialog
}

func (d *pwDialog) Type() string    { return d.d.Type() }
func (d *pwDialog) Message() string { return d.d.Message() }
func (d *pwDialog) Accept() error   { return d.d.Accept() }
func (d *pwDialog) Dismiss() error  { return d.d.Dismiss() }

type pwDownload struct {
	d playwright.Download
}

func (d *pwDownload) SuggestedFilename() string { return d.d.SuggestedFilename() }
func (d *pwDownload) SaveAs(path string) error  { return d.d.SaveAs(path) }
