// Package browser defines the narrow contract the orchestration core
// holds against the underlying browser automation runtime, plus the
// stealth tier implementations that launch it. The core never imports
// the runtime library directly; everything goes through these
// interfaces so the session, snapshot, and action layers can be tested
// against fakes.
package browser

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Cookie mirrors the runtime cookie record.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Page is one browser tab.
type Page interface {
	URL() string
	Title() (string, error)

	// Goto navigates with a domcontentloaded wait bounded by timeout.
	Goto(ctx context.Context, url string, timeout time.Duration) error

	// GoBack navigates back. The bool is false when there was no history
	// entry to go back to.
	GoBack(ctx context.Context, timeout time.Duration) (bool, error)

	// AriaSnapshot returns the accessibility tree of the page root in the
	// runtime's indented bullet text form.
	AriaSnapshot(ctx context.Context) (string, error)

	// Evaluate runs JavaScript in the page and returns the deserialized
	// result. The JS context may be destroyed mid-call by a
	// cross-document navigation; callers treat that as a possible
	// success signalled by a URL change.
	Evaluate(ctx context.Context, js string, args ...any) (any, error)

	Frames() []Frame
	Locator(selector string) Locator
	ByRole(role, name string, exact bool) Locator

	Keyboard() Keyboard
	Mouse() Mouse

	// Screenshot captures the page via the runtime's native path.
	Screenshot(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error)

	// ScreenshotCDP captures via the devtools protocol with
	// optimizeForSpeed, the second rung of the fallback chain.
	ScreenshotCDP(ctx context.Context, fullPage bool, timeout time.Duration) ([]byte, error)

	BringToFront() error
	Close() error
	ViewportSize() Size

	OnDialog(fn func(Dialog))
	OnDownload(fn func(Download))

	// Context returns the owning browser context.
	Context() Context
}

// Frame is a subframe targeted by URL substring in evaluate.
type Frame interface {
	URL() string
	Evaluate(ctx context.Context, js string, args ...any) (any, error)
}

// Locator addresses one or more elements. Implementations resolve
// lazily; operations carry their own bound.
type Locator interface {
	Click(ctx context.Context, timeout time.Duration) error
	Fill(ctx context.Context, value string, timeout time.Duration) error
	PressSequentially(ctx context.Context, text string, delay, timeout time.Duration) error
	Press(ctx context.Context, key string, timeout time.Duration) error
	SelectOption(ctx context.Context, value string, timeout time.Duration) error
	SetInputFiles(ctx context.Context, path string) error
	Nth(i int) Locator
	First() Locator
	Count() (int, error)
	BoundingBox() (*Rect, error)
	Evaluate(ctx context.Context, js string) (any, error)
	Locator(selector string) Locator
}

// Keyboard is page-level keyboard input.
type Keyboard interface {
	Press(key string) error
	Type(text string) error
}

// Mouse is page-level pointer input.
type Mouse interface {
	Move(x, y float64, steps int) error
	Click(x, y float64) error
	Wheel(deltaX, deltaY float64) error
}

// Dialog is a JS dialog (alert, confirm, prompt, beforeunload).
type Dialog interface {
	Type() string
	Message() string
	Accept() error
	Dismiss() error
}

// Download is a file the page saved.
type Download interface {
	SuggestedFilename() string
	SaveAs(path string) error
}

// Context is a browser context: a cookie jar plus an ordered tab list.
type Context interface {
	Pages() []Page
	NewPage() (Page, error)
	Cookies(urls ...string) ([]Cookie, error)
	AddCookies(cookies []Cookie) error

	// StorageState serializes cookies + localStorage to JSON.
	StorageState() (json.RawMessage, error)
}

// Browser is the launched browser process.
type Browser interface {
	Close() error
}

// Resources bundles what a tier's Init returns: the runtime driver
// handle, the browser, and a fresh context.
type Resources struct {
	Handle  io.Closer
	Browser Browser
	Context Context
}

// Proxy is an upstream proxy for the stealth tiers.
type Proxy struct {
	Server   string
	Username string
	Password string
}

// InitOptions carries per-launch parameters into a tier.
type InitOptions struct {
	// ProfilePath, when set, points at a profile directory whose
	// storage.json (if present) seeds the context.
	ProfilePath string
	Viewport    *Size
}

// Tier is one stealth level. Detect is advisory and never installs
// anything; a missing backend surfaces as a recoverable Init error.
type Tier interface {
	Number() int
	Name() string
	Detect() bool
	Init(ctx context.Context, opts InitOptions) (*Resources, error)
	Teardown(res *Resources) error
}
