package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/allaspectsdev/browserd/internal/browser"
)

func init() {
	register("press", actionPress)
	register("select", actionSelect)
	register("go_back", actionGoBack)
	register("cookies_get", actionCookiesGet)
	register("cookies_set", actionCookiesSet)
	register("tab_new", actionTabNew)
	register("tab_switch", actionTabSwitch)
	register("tab_close", actionTabClose)
}

// actionPress presses a keyboard key, focused on a ref when given.
func actionPress(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	key := pStr(params, "key")
	if key == "" {
		return fail("Missing required param: key")
	}

	if ref := pStr(params, "ref"); ref != "" {
		locator := resolveRef(page, ref, actx.RefMap)
		if locator == nil {
			return refNotFound(ref)
		}
		if err := locator.Press(ctx, key, actx.d.actionTimeout); err != nil {
			return failErr(err)
		}
	} else {
		if err := page.Keyboard().Press(key); err != nil {
			return failErr(err)
		}
	}
	return ok("Pressed " + key)
}

// actionSelect picks a drop-down option by value.
func actionSelect(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	ref := pStr(params, "ref")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	locator := resolveRef(page, ref, actx.RefMap)
	if locator == nil {
		return refNotFound(ref)
	}

	value := pStr(params, "value")
	if err := locator.SelectOption(ctx, value, actx.d.actionTimeout); err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Selected %q in %s", value, ref))
}

// actionGoBack navigates back, failing when there is no history.
func actionGoBack(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	moved, err := page.GoBack(ctx, actx.d.navTimeout)
	if err != nil {
		return failErr(err)
	}
	if !moved {
		return fail("No browser history to go back to.")
	}
	title, _ := page.Title()
	r := ok("Navigated back to " + page.URL())
	r["page_changed"] = true
	r["new_url"] = page.URL()
	r["new_title"] = title
	return r
}

// actionCookiesGet reads context cookies, optionally scoped to a domain.
func actionCookiesGet(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	var urls []string
	if domain := pStr(params, "domain"); domain != "" {
		urls = append(urls, "https://"+domain)
	}
	cookies, err := page.Context().Cookies(urls...)
	if err != nil {
		return failErr(err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fail(fmt.Sprintf("serializing cookies: %v", err))
	}
	return ok(string(data))
}

// actionCookiesSet writes cookies into the context.
func actionCookiesSet(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	rawList, isList := params["cookies"].([]any)
	if !isList || len(rawList) == 0 {
		return fail("Missing required param: cookies")
	}

	// Round-trip through JSON to map loosely-typed request data onto the
	// cookie record.
	encoded, err := json.Marshal(rawList)
	if err != nil {
		return fail(fmt.Sprintf("parsing cookies: %v", err))
	}
	var cookies []browser.Cookie
	if err := json.Unmarshal(encoded, &cookies); err != nil {
		return fail(fmt.Sprintf("parsing cookies: %v", err))
	}

	if err := page.Context().AddCookies(cookies); err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Set %d cookie(s)", len(cookies)))
}

// actionTabNew opens a new tab, optionally navigating it.
func actionTabNew(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	target := pStr(params, "url")
	newPage, err := actx.d.registry.NewPage(ctx, actx.Session.ID, target)
	if newPage == nil {
		if err != nil {
			return failErr(err)
		}
		return fail("Failed to create new tab")
	}

	content := "New tab opened"
	if target != "" {
		content += " at " + target
	}
	r := ok(content)
	r["page_changed"] = true
	r["new_url"] = newPage.URL()
	if err != nil {
		r["warning"] = fmt.Sprintf("Navigation issue: %v", err)
	}
	return r
}

// actionTabSwitch activates the tab at a 0-based index.
func actionTabSwitch(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	index := pInt(params, "index", 0)
	switched := actx.d.registry.SwitchPage(actx.Session.ID, index)
	if switched == nil {
		return fail(fmt.Sprintf("Tab index %d not found", index))
	}
	r := ok(fmt.Sprintf("Switched to tab %d", index))
	r["page_changed"] = true
	r["new_url"] = switched.URL()
	return r
}

// actionTabClose closes the tab at a 0-based index. The session always
// keeps an active page: closing the last tab opens a blank one.
func actionTabClose(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	index := pInt(params, "index", 0)
	if !actx.d.registry.ClosePage(actx.Session.ID, index) {
		return fail(fmt.Sprintf("Tab index %d not found", index))
	}
	return ok(fmt.Sprintf("Closed tab %d", index))
}
