// Package browsertest provides in-memory fakes for the browser runtime
// contract, so the session, snapshot, and dispatcher layers can be
// tested without a real browser.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
)

// FakePage is a scriptable Page.
type FakePage struct {
	mu sync.Mutex

	CurrentURL    string
	PageTitle     string
	AriaTree      string
	AriaErr       error
	TitleByURL    map[string]string
	Viewport      browser.Size
	ScreenshotPNG []byte
	ScreenshotErr error
	CDPPNG        []byte
	CDPErr        error
	HistoryDepth  int
	Closed        bool

	// EvaluateFunc scripts page.Evaluate; nil returns nil results.
	EvaluateFunc func(js string, args ...any) (any, error)

	// OnClickNavigate, when set, is the URL every click (locator or
	// mouse) navigates to. It stays set until the test clears it.
	OnClickNavigate string

	// ClickErr fails locator clicks when set.
	ClickErr error

	Clicks  int
	Fills   []string
	Typed   []string
	Pressed []string

	dialogFns   []func(browser.Dialog)
	downloadFns []func(browser.Download)

	owner *FakeContext
}

// NewFakePage creates a page with sane defaults, not yet attached to a
// context.
func NewFakePage(url, title string) *FakePage {
	return &FakePage{
		CurrentURL: url,
		PageTitle:  title,
		Viewport:   browser.Size{Width: 1280, Height: 720},
		TitleByURL: map[string]string{},
	}
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *FakePage) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

// SetLocation moves the page, looking up the title map.
func (p *FakePage) SetLocation(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
	if t, ok := p.TitleByURL[url]; ok {
		p.PageTitle = t
	}
}

func (p *FakePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	p.SetLocation(url)
	p.mu.Lock()
	p.HistoryDepth++
	p.mu.Unlock()
	return nil
}

func (p *FakePage) GoBack(ctx context.Context, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HistoryDepth <= 0 {
		return false, nil
	}
	p.HistoryDepth--
	return true, nil
}

func (p *FakePage) AriaSnapshot(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AriaTree, p.AriaErr
}

func (p *FakePage) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(js, args...)
	}
	return nil, nil
}

func (p *FakePage) Frames() []browser.Frame { return nil }

func (p *FakePage) Locator(selector string) browser.Locator {
	return &FakeLocator{page: p, Selector: selector}
}

func (p *FakePage) ByRole(role, name string, exact bool) browser.Locator {
	return &FakeLocator{page: p, Role: role, Name: name}
}

func (p *FakePage) Keyboard() browser.Keyboard { return &fakeKeyboard{page: p} }
func (p *FakePage) Mouse() browser.Mouse       { return &fakeMouse{page: p} }

func (p *FakePage) Screenshot(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error) {
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	if p.ScreenshotPNG == nil {
		return []byte("png"), nil
	}
	return p.ScreenshotPNG, nil
}

func (p *FakePage) ScreenshotCDP(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error) {
	if p.CDPErr != nil {
		return nil, p.CDPErr
	}
	if p.CDPPNG == nil {
		return nil, fmt.Errorf("cdp unavailable")
	}
	return p.CDPPNG, nil
}

func (p *FakePage) BringToFront() error { return nil }

func (p *FakePage) Close() error {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	if p.owner != nil {
		p.owner.removePage(p)
	}
	return nil
}

func (p *FakePage) ViewportSize() browser.Size { return p.Viewport }

func (p *FakePage) OnDialog(fn func(browser.Dialog))     { p.dialogFns = append(p.dialogFns, fn) }
func (p *FakePage) OnDownload(fn func(browser.Download)) { p.downloadFns = append(p.downloadFns, fn) }

// FireDialog delivers a dialog event to registered handlers.
func (p *FakePage) FireDialog(d browser.Dialog) {
	for _, fn := range p.dialogFns {
		fn(d)
	}
}

// FireDownload delivers a download event to registered handlers.
func (p *FakePage) FireDownload(d browser.Download) {
	for _, fn := range p.downloadFns {
		fn(d)
	}
}

func (p *FakePage) Context() browser.Context { return p.owner }

// clickLanded applies the scripted click side effects.
func (p *FakePage) clickLanded() error {
	p.mu.Lock()
	clickErr := p.ClickErr
	nav := p.OnClickNavigate
	p.mu.Unlock()
	if clickErr != nil {
		return clickErr
	}
	p.mu.Lock()
	p.Clicks++
	p.mu.Unlock()
	if nav != "" {
		p.SetLocation(nav)
	}
	return nil
}

// FakeLocator records element interactions on its page.
type FakeLocator struct {
	page     *FakePage
	Selector string
	Role     string
	Name     string
	NthIndex int

	// CountValue backs Count(); zero means one element.
	CountValue int

	// EvaluateResult backs Evaluate.
	EvaluateResult any
}

func (l *FakeLocator) Click(ctx context.Context, timeout time.Duration) error {
	return l.page.clickLanded()
}

func (l *FakeLocator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.Fills = append(l.page.Fills, value)
	return nil
}

func (l *FakeLocator) PressSequentially(ctx context.Context, text string, delay, timeout time.Duration) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.Typed = append(l.page.Typed, text)
	return nil
}

func (l *FakeLocator) Press(ctx context.Context, key string, timeout time.Duration) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.Pressed = append(l.page.Pressed, key)
	return nil
}

func (l *FakeLocator) SelectOption(ctx context.Context, value string, timeout time.Duration) error {
	return nil
}

func (l *FakeLocator) SetInputFiles(ctx context.Context, path string) error { return nil }

func (l *FakeLocator) Nth(i int) browser.Locator {
	clone := *l
	clone.NthIndex = i
	return &clone
}

func (l *FakeLocator) First() browser.Locator { return l.Nth(0) }

func (l *FakeLocator) Count() (int, error) {
	if l.CountValue == 0 {
		return 1, nil
	}
	return l.CountValue, nil
}

func (l *FakeLocator) BoundingBox() (*browser.Rect, error) {
	return &browser.Rect{X: 10, Y: 10, Width: 100, Height: 20}, nil
}

func (l *FakeLocator) Evaluate(ctx context.Context, js string) (any, error) {
	return l.EvaluateResult, nil
}

func (l *FakeLocator) Locator(selector string) browser.Locator {
	return &FakeLocator{page: l.page, Selector: selector}
}

type fakeKeyboard struct{ page *FakePage }

func (k *fakeKeyboard) Press(key string) error {
	k.page.mu.Lock()
	defer k.page.mu.Unlock()
	k.page.Pressed = append(k.page.Pressed, key)
	return nil
}

func (k *fakeKeyboard) Type(text string) error {
	k.page.mu.Lock()
	defer k.page.mu.Unlock()
	k.page.Typed = append(k.page.Typed, text)
	return nil
}

type fakeMouse struct{ page *FakePage }

func (m *fakeMouse) Move(x, y float64, steps int) error { return nil }

func (m *fakeMouse) Click(x, y float64) error {
	return m.page.clickLanded()
}

func (m *fakeMouse) Wheel(dx, dy float64) error { return nil }

// FakeContext is a scriptable Context.
type FakeContext struct {
	mu      sync.Mutex
	pages   []*FakePage
	cookies []browser.Cookie

	// NewPageErr fails NewPage when set.
	NewPageErr error
}

// NewFakeContext creates an empty context.
func NewFakeContext() *FakeContext {
	return &FakeContext{}
}

// AddPage attaches an existing fake page to the context.
func (c *FakeContext) AddPage(p *FakePage) *FakePage {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.owner = c
	c.pages = append(c.pages, p)
	return p
}

func (c *FakeContext) removePage(p *FakePage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pages {
		if q == p {
			c.pages = append(c.pages[:i], c.pages[i+1:]...)
			return
		}
	}
}

func (c *FakeContext) Pages() []browser.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out
}

func (c *FakeContext) NewPage() (browser.Page, error) {
	if c.NewPageErr != nil {
		return nil, c.NewPageErr
	}
	p := NewFakePage("about:blank", "")
	return c.AddPage(p), nil
}

func (c *FakeContext) Cookies(urls ...string) ([]browser.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Cookie, len(c.cookies))
	copy(out, c.cookies)
	return out, nil
}

func (c *FakeContext) AddCookies(cookies []browser.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

func (c *FakeContext) StorageState() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := map[string]any{"cookies": c.cookies, "origins": []any{}}
	return json.Marshal(state)
}

// FakeTier is a Tier whose Init hands out fake contexts.
type FakeTier struct {
	TierNumber  int
	TierName    string
	InitErr     error
	TeardownErr error

	Inits     int
	Teardowns int

	// LastContext is the context handed out by the most recent Init.
	LastContext *FakeContext
}

func (t *FakeTier) Number() int {
	if t.TierNumber == 0 {
		return 1
	}
	return t.TierNumber
}

func (t *FakeTier) Name() string {
	if t.TierName == "" {
		return "fake"
	}
	return t.TierName
}

func (t *FakeTier) Detect() bool { return true }

func (t *FakeTier) Init(ctx context.Context, opts browser.InitOptions) (*browser.Resources, error) {
	if t.InitErr != nil {
		return nil, t.InitErr
	}
	t.Inits++
	fc := NewFakeContext()
	t.LastContext = fc
	return &browser.Resources{
		Handle:  nopCloser{},
		Browser: nopBrowser{},
		Context: fc,
	}, nil
}

func (t *FakeTier) Teardown(res *browser.Resources) error {
	t.Teardowns++
	return t.TeardownErr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type nopBrowser struct{}

func (nopBrowser) Close() error { return nil }

// FakeDialog is a Dialog event for tests.
type FakeDialog struct {
	DialogType string
	Msg        string
	Accepted   bool
	Dismissed  bool
}

func (d *FakeDialog) Type() string    { return d.DialogType }
func (d *FakeDialog) Message() string { return d.Msg }
func (d *FakeDialog) Accept() error   { d.Accepted = true; return nil }
func (d *FakeDialog) Dismiss() error  { d.Dismissed = true; return nil }

// FakeDownload is a Download event for tests.
type FakeDownload struct {
	Filename string
	Content  []byte
}

func (d *FakeDownload) SuggestedFilename() string { return d.Filename }

func (d *FakeDownload) SaveAs(path string) error {
	return os.WriteFile(path, d.Content, 0o600)
}
