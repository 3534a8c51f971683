package actions

import (
	"strings"

	"github.com/allaspectsdev/browserd/internal/behavior"
	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

// parseRef canonicalizes a ref argument to "eN" form. Accepts @e1,
// ref=e1, and bare e1; returns "" for anything else.
func parseRef(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "@"):
		raw = raw[1:]
	case strings.HasPrefix(raw, "ref="):
		raw = raw[4:]
	}
	if !strings.HasPrefix(raw, "e") || len(raw) < 2 {
		return ""
	}
	for _, c := range raw[1:] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return raw
}

// resolveRef turns a ref argument into a Locator via the ref map.
// Cursor-interactive entries carry a CSS selector; ARIA entries resolve
// by role with exact-name match and the stored nth index. Returns nil
// when the ref is unknown (the ref is stale relative to the map).
func resolveRef(page browser.Page, raw string, refMap snapshot.RefMap) browser.Locator {
	parsed := parseRef(raw)
	if parsed == "" {
		return nil
	}
	entry, found := refMap["@"+parsed]
	if !found {
		return nil
	}

	if entry.Role == "clickable" || entry.Role == "focusable" {
		return page.Locator(entry.Selector)
	}

	locator := page.ByRole(entry.Role, entry.Name, true)
	if entry.Nth != nil {
		locator = locator.Nth(*entry.Nth)
	}
	return locator
}

// refNotFound is the stale-ref error result: always advises a fresh
// snapshot.
func refNotFound(ref string) Result {
	return failCode("REF_NOT_FOUND", "Ref "+ref+" not found. Take a new snapshot.")
}

// humanizer builds the behavioral layer at this call's intensity.
func (c *Ctx) humanizer() *behavior.Humanizer {
	return behavior.New(c.Intensity)
}
