package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
)

// Result is one parsed snapshot.
type Result struct {
	Success  bool   `json:"success"`
	Tree     string `json:"tree"`
	Refs     RefMap `json:"refs"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	TabCount int    `json:"tab_count"`
	Error    string `json:"error,omitempty"`

	// Diff counts against the previous snapshot of the same session.
	NewElementCount     int `json:"new_element_count,omitempty"`
	ChangedElementCount int `json:"changed_element_count,omitempty"`
	RemovedElementCount int `json:"removed_element_count,omitempty"`
}

// DismissedDialog is a dialog the session auto-handled, surfaced in the
// snapshot header.
type DismissedDialog struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// DownloadInfo is a file captured during the session.
type DownloadInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// ToolInfo is a discovered WebMCP tool listed in the header.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Options control one snapshot pass.
type Options struct {
	Compact           bool
	MaxDepth          int
	CursorInteractive bool

	// Header extras supplied by the session layer.
	DismissedDialogs []DismissedDialog
	Downloads        []DownloadInfo
	Tools            []ToolInfo
}

// DefaultOptions are the per-call defaults.
func DefaultOptions() Options {
	return Options{Compact: true, MaxDepth: 10, CursorInteractive: true}
}

// Engine takes snapshots and remembers the previous ref map per session
// for diffing.
type Engine struct {
	prev *diffCache
}

// NewEngine creates an Engine with a per-session diff cache.
func NewEngine() (*Engine, error) {
	cache, err := newDiffCache()
	if err != nil {
		return nil, err
	}
	return &Engine{prev: cache}, nil
}

// Forget drops the remembered snapshot for a session (called on close).
func (e *Engine) Forget(sessionID string) {
	e.prev.forget(sessionID)
}

// Take captures and parses an accessibility snapshot of page. The
// sessionID keys the diff cache; pass "" to skip diffing.
func (e *Engine) Take(ctx context.Context, page browser.Page, sessionID string, opts Options) *Result {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}

	url := page.URL()
	title, _ := page.Title()
	tabCount := len(page.Context().Pages())

	base := &Result{
		URL:      url,
		Title:    title,
		TabCount: tabCount,
	}

	raw, err := page.AriaSnapshot(ctx)
	if err != nil {
		base.Error = fmt.Sprintf("accessibility snapshot failed: %v", err)
		return base
	}
	if strings.TrimSpace(raw) == "" {
		base.Error = "Empty accessibility snapshot; page may still be loading."
		return base
	}

	var counter refCounter
	lines, refs := processAriaText(raw, opts.Compact, opts.MaxDepth, &counter)

	// Cursor-interactive discovery continues ref numbering so cursor
	// refs never collide with ARIA refs.
	if opts.CursorInteractive {
		lines = appendCursorInteractive(ctx, page, lines, refs, &counter)
	}

	// Diff against the previous snapshot for this session.
	if sessionID != "" {
		diff := e.prev.diff(sessionID, refs)
		base.NewElementCount = diff.newCount
		base.ChangedElementCount = diff.changedCount
		base.RemovedElementCount = diff.removedCount
		lines = annotate(lines, refs, diff)
	}

	header := buildHeader(page, url, title, tabCount, opts)

	var sb strings.Builder
	sb.WriteString(header)
	for i, l := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(l.text)
	}

	base.Success = true
	base.Tree = sb.String()
	base.Refs = refs
	return base
}

// buildHeader renders the URL/title banner, tab info, and the optional
// dismissed-dialog, download, and tool summaries.
func buildHeader(page browser.Page, url, title string, tabCount int, opts Options) string {
	var sb strings.Builder

	if n := len(opts.DismissedDialogs); n > 0 {
		recent := opts.DismissedDialogs
		if n > 3 {
			recent = recent[n-3:]
		}
		sb.WriteString("Dismissed popups:\n")
		for _, d := range recent {
			msg := d.Message
			if len(msg) > 80 {
				msg = msg[:80]
			}
			fmt.Fprintf(&sb, "  [%s] %s -> %s\n", d.Type, msg, d.Action)
		}
		sb.WriteString("\n")
	}

	if n := len(opts.Downloads); n > 0 {
		recent := opts.Downloads
		if n > 5 {
			recent = recent[n-5:]
		}
		sb.WriteString("Downloaded files:\n")
		for _, d := range recent {
			fmt.Fprintf(&sb, "  %s (%d bytes)\n", d.Filename, d.Size)
		}
		sb.WriteString("\n")
	}

	if len(opts.Tools) > 0 {
		sb.WriteString("Page tools (webmcp_call):\n")
		for _, t := range opts.Tools {
			fmt.Fprintf(&sb, "  %s: %s\n", t.Name, t.Description)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Page: %s | Title: %s\n", url, title)
	fmt.Fprintf(&sb, "Tab %d of %d\n\n", tabIndex(page)+1, tabCount)
	return sb.String()
}

// tabIndex locates page within its context's ordered tab list.
func tabIndex(page browser.Page) int {
	for i, p := range page.Context().Pages() {
		if p == page {
			return i
		}
	}
	return 0
}

// cursorInteractiveJS enumerates elements that are visually clickable
// but lack an accessibility role: non-interactive tag, no interactive
// role, cursor:pointer or onclick or tabindex != -1, visible box,
// non-empty short text. Deduplicated by text, capped at 20.
const cursorInteractiveJS = `
() => {
    const interactiveTags = new Set([
        'a', 'button', 'input', 'select', 'textarea', 'summary', 'details'
    ]);
    const interactiveRoles = new Set([
        'button', 'link', 'textbox', 'checkbox', 'radio', 'combobox',
        'listbox', 'menuitem', 'option', 'searchbox', 'slider',
        'spinbutton', 'switch', 'tab', 'treeitem'
    ]);
    const results = [];
    const seen = new Set();

    for (const el of document.querySelectorAll('*')) {
        const tag = el.tagName.toLowerCase();
        if (interactiveTags.has(tag)) continue;

        const role = el.getAttribute('role');
        if (role && interactiveRoles.has(role)) continue;

        const style = getComputedStyle(el);
        const cursorPointer = style.cursor === 'pointer';
        const hasOnClick = el.hasAttribute('onclick') || el.onclick !== null;
        const tabIndex = el.getAttribute('tabindex');
        const hasTabIndex = tabIndex !== null && tabIndex !== '-1';

        if (!cursorPointer && !hasOnClick && !hasTabIndex) continue;

        const text = (el.textContent || '').trim().slice(0, 80);
        if (!text || seen.has(text)) continue;

        const rect = el.getBoundingClientRect();
        if (rect.width === 0 || rect.height === 0) continue;

        seen.add(text);

        let selector = tag;
        if (el.id) {
            selector = '#' + CSS.escape(el.id);
        } else if (el.className && typeof el.className === 'string') {
            const cls = el.className.trim().split(/\s+/).slice(0, 2).map(c => '.' + CSS.escape(c)).join('');
            selector = tag + cls;
        }

        results.push({
            text: text,
            selector: selector,
            cursor_pointer: cursorPointer,
        });

        if (results.length >= 20) break;
    }
    return results;
}
`

// appendCursorInteractive asks the page for clickable-but-roleless
// elements and appends a ref for each, skipping any whose text already
// names an existing ref.
func appendCursorInteractive(ctx context.Context, page browser.Page, lines []treeLine, refs RefMap, counter *refCounter) []treeLine {
	evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := page.Evaluate(evalCtx, cursorInteractiveJS)
	if err != nil {
		return lines
	}
	entries, ok := raw.([]any)
	if !ok {
		return lines
	}

	existing := make(map[string]bool, len(refs))
	for _, r := range refs {
		if r.Name != "" {
			existing[strings.ToLower(r.Name)] = true
		}
	}

	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		selector, _ := m["selector"].(string)
		cursorPointer, _ := m["cursor_pointer"].(bool)
		if text == "" || selector == "" || existing[strings.ToLower(text)] {
			continue
		}

		ref := counter.next()
		token := "@" + ref
		role := "focusable"
		if cursorPointer {
			role = "clickable"
		}
		refs[token] = RefEntry{
			Role:     role,
			Name:     text,
			Selector: selector,
		}
		lines = append(lines, treeLine{
			text: fmt.Sprintf(`- [cursor-interactive] "%s" %s`, text, token),
			ref:  token,
		})
	}
	return lines
}
