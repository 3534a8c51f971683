// Package actions implements the action vocabulary and the unified
// dispatch pipeline: session lock, rate limiting, verb execution, loop
// detection, block/challenge detection, rate-limit accounting, ref-map
// persistence. Handlers share one uniform signature and are addressed
// through a compile-time verb table.
package actions

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
	berrors "github.com/allaspectsdev/browserd/internal/errors"
	"github.com/allaspectsdev/browserd/internal/session"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

// Result is the JSON-shaped outcome of one action.
type Result = map[string]any

// Params are the JSON-decoded action parameters.
type Params = map[string]any

// Ctx is the session context an action receives: the authoritative ref
// map (or a per-request override), tier, humanization parameters,
// discovered tools, and captured downloads.
type Ctx struct {
	Session  *session.Session
	RefMap   snapshot.RefMap
	Tier     int
	Humanize bool
	// Intensity is the effective humanization intensity, already boosted
	// for sensitive domains.
	Intensity float64
	Tools     map[string]session.Tool
	Downloads []snapshot.DownloadInfo

	d *Dispatcher
}

// Handler is the uniform action signature.
type Handler func(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result

// handlers is the compile-time verb table. Populated in init() so the
// handler functions can live in their topic files.
var handlers = map[string]Handler{}

func register(verb string, h Handler) {
	handlers[verb] = h
}

// Verbs returns the sorted action vocabulary.
func Verbs() []string {
	out := make([]string, 0, len(handlers))
	for v := range handlers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

func ok(content string) Result {
	return Result{"success": true, "extracted_content": content}
}

func fail(msg string) Result {
	return Result{"success": false, "error": msg}
}

// failErr classifies a runtime error into the taxonomy and carries the
// stable code plus guidance into the result.
func failErr(err error) Result {
	be := berrors.Classify(err)
	return Result{
		"success":        false,
		"error":          be.AgentMessage(),
		"code":           be.Code,
		"recoverability": string(be.Recoverability),
	}
}

func failCode(code, msg string) Result {
	be := berrors.New(code, msg)
	return Result{
		"success":        false,
		"error":          be.AgentMessage(),
		"code":           be.Code,
		"recoverability": string(be.Recoverability),
	}
}

func succeeded(r Result) bool {
	s, _ := r["success"].(bool)
	return s
}

// ---------------------------------------------------------------------------
// Param helpers (JSON-decoded values: numbers arrive as float64)
// ---------------------------------------------------------------------------

func pStr(p Params, key string) string {
	s, _ := p[key].(string)
	return s
}

func pBool(p Params, key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func pInt(p Params, key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func pFloat(p Params, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// hostOf extracts the lowercase host of a URL, empty on parse failure.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}


// settle pauses after a page-mutating interaction: fixed 300ms, or the
// humanizer's jittered delay.
func settle(ctx context.Context, actx *Ctx) {
	d := 300 * time.Millisecond
	if actx.Humanize {
		d = actx.humanizer().SettleDelay()
	}
	sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
