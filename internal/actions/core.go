package actions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/compaction"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

func init() {
	register("navigate", actionNavigate)
	register("click", actionClick)
	register("fill", actionFill)
	register("type", actionType)
	register("scroll", actionScroll)
	register("snapshot", actionSnapshot)
	register("screenshot", actionScreenshot)
	register("wait", actionWait)
	register("evaluate", actionEvaluate)
	register("done", actionDone)
}

// actionNavigate loads a URL with a domcontentloaded wait.
func actionNavigate(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	target := pStr(params, "url")
	if target == "" {
		return fail("Missing required param: url")
	}

	if err := page.Goto(ctx, target, actx.d.navTimeout); err != nil {
		r := failErr(err)
		r["new_url"] = page.URL()
		return r
	}

	title, _ := page.Title()
	r := ok("Navigated to " + page.URL())
	r["page_changed"] = true
	r["new_url"] = page.URL()
	r["new_title"] = title
	return r
}

// actionClick clicks an element by ref. A click that triggers
// navigation is a success with page_changed=true even when the
// underlying call raised due to detach. Newly opened tabs are reported.
func actionClick(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	ref := pStr(params, "ref")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	locator := resolveRef(page, ref, actx.RefMap)
	if locator == nil {
		return refNotFound(ref)
	}

	oldURL := page.URL()
	oldTabCount := len(page.Context().Pages())

	var clickErr error
	if actx.Humanize {
		hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		clickErr = actx.humanizer().MoveToElement(hctx, page, locator, true)
		cancel()
		if clickErr != nil {
			// Humanized path timed out or failed; plain click fallback.
			clickErr = locator.Click(ctx, actx.d.actionTimeout)
		}
	} else {
		clickErr = locator.Click(ctx, actx.d.actionTimeout)
	}

	if clickErr != nil {
		if newURL := page.URL(); newURL != oldURL {
			title, _ := page.Title()
			r := ok(fmt.Sprintf("Clicked %s (page navigated)", ref))
			r["page_changed"] = true
			r["new_url"] = newURL
			r["new_title"] = title
			return r
		}
		return failErr(clickErr)
	}

	settle(ctx, actx)

	newURL := page.URL()
	newTabCount := len(page.Context().Pages())

	r := ok("Clicked " + ref)
	r["page_changed"] = newURL != oldURL
	if newURL != oldURL {
		title, _ := page.Title()
		r["new_url"] = newURL
		r["new_title"] = title
	}
	if newTabCount > oldTabCount {
		pages := page.Context().Pages()
		opened := pages[len(pages)-1]
		r["new_tab_opened"] = true
		r["new_tab_url"] = opened.URL()
		r["extracted_content"] = fmt.Sprintf("Clicked %s (opened new tab: %s)", ref, opened.URL())
	}
	return r
}

// actionFill atomically clears then sets a field value. Credential
// references in the value were already resolved by the dispatcher.
func actionFill(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	ref := pStr(params, "ref")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	locator := resolveRef(page, ref, actx.RefMap)
	if locator == nil {
		return refNotFound(ref)
	}

	value := pStr(params, "value")
	if err := locator.Fill(ctx, value, actx.d.actionTimeout); err != nil {
		return failErr(err)
	}
	return ok("Filled " + ref + " with value")
}

// actionType types character-by-character. With humanization, Gaussian
// inter-key timing and occasional corrected typos; the bound grows with
// text length.
func actionType(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	ref := pStr(params, "ref")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	locator := resolveRef(page, ref, actx.RefMap)
	if locator == nil {
		return refNotFound(ref)
	}

	text := pStr(params, "text")
	delay := time.Duration(pInt(params, "delay_ms", 50)) * time.Millisecond

	if actx.Humanize {
		bound := 15 * time.Second
		if perChar := time.Duration(len(text)) * 200 * time.Millisecond; perChar > bound {
			bound = perChar
		}
		hctx, cancel := context.WithTimeout(ctx, bound)
		err := actx.humanizer().Type(hctx, page, locator, text)
		cancel()
		if err != nil {
			// Humanized typing timed out; finish with plain sequential
			// typing so the field is not left half-filled.
			if err := locator.Click(ctx, 5*time.Second); err != nil {
				return failErr(err)
			}
			if err := locator.PressSequentially(ctx, text, delay, actx.d.actionTimeout); err != nil {
				return failErr(err)
			}
		}
	} else {
		if err := locator.PressSequentially(ctx, text, delay, actx.d.actionTimeout); err != nil {
			return failErr(err)
		}
	}
	return ok(fmt.Sprintf("Typed %d chars into %s", len(text), ref))
}

// actionScroll scrolls the viewport. amount may be a pixel count or
// "page" for one viewport height.
func actionScroll(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	direction := pStr(params, "direction")
	if direction == "" {
		direction = "down"
	}

	amount := 300
	if s, isStr := params["amount"].(string); isStr && s == "page" {
		if vp := page.ViewportSize(); vp.Height > 0 {
			amount = vp.Height
		} else {
			amount = 800
		}
	} else {
		amount = pInt(params, "amount", 300)
	}

	if actx.Humanize {
		if err := actx.humanizer().Scroll(ctx, page, direction, amount); err != nil {
			return failErr(err)
		}
	} else {
		delta := float64(amount)
		if direction != "down" {
			delta = -delta
		}
		if err := page.Mouse().Wheel(0, delta); err != nil {
			return failErr(err)
		}
		sleepCtx(ctx, 300*time.Millisecond)
	}
	return ok(fmt.Sprintf("Scrolled %s %dpx", direction, amount))
}

// actionSnapshot parses the accessibility tree into refs. The
// dispatcher persists the produced ref map as the session's
// authoritative map.
func actionSnapshot(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	opts := snapshot.DefaultOptions()
	opts.Compact = pBool(params, "compact", true)
	opts.MaxDepth = pInt(params, "max_depth", actx.d.maxSnapshotDepth)
	opts.CursorInteractive = pBool(params, "cursor_interactive", true)
	opts.DismissedDialogs = actx.Session.SnapshotDismissedDialogs()
	opts.Downloads = actx.Session.SnapshotDownloads()
	for _, t := range actx.Tools {
		opts.Tools = append(opts.Tools, snapshot.ToolInfo{Name: t.Name, Description: t.Description})
	}

	snap := actx.d.snap.Take(ctx, page, actx.Session.ID, opts)
	r := Result{
		"success":   snap.Success,
		"tree":      snap.Tree,
		"refs":      snap.Refs,
		"url":       snap.URL,
		"title":     snap.Title,
		"tab_count": snap.TabCount,
	}
	if snap.Error != "" {
		r["error"] = snap.Error
	}
	if snap.Success {
		r["new_element_count"] = snap.NewElementCount
		r["changed_element_count"] = snap.ChangedElementCount
		r["removed_element_count"] = snap.RemovedElementCount
		if len(snap.Tree) > 2000 {
			if tokens := compaction.CountTokens(snap.Tree); tokens > 0 {
				r["token_count"] = tokens
			}
		}
		// Hand the fresh map to the dispatcher through the call context.
		actx.RefMap = snap.Refs
	}
	return r
}

// actionScreenshot captures the page through the three-rung chain:
// native, CDP with optimizeForSpeed, then a throwaway alternate-engine
// browser pointed at the same URL (public rendering only). The third
// rung runs only on tiers 1 and 2; a tier 3 session stops after CDP.
func actionScreenshot(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	fullPage := pBool(params, "full_page", false)

	data, err := page.Screenshot(ctx, fullPage, 15*time.Second)
	if err != nil {
		data = nil
	}

	if data == nil {
		if cdpData, cdpErr := page.ScreenshotCDP(ctx, fullPage, 10*time.Second); cdpErr == nil {
			data = cdpData
		}
	}

	if data == nil && (actx.Tier == 1 || actx.Tier == 2) {
		fbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if fbData, fbErr := actx.d.fallbackShot(fbCtx, page.URL(), fullPage); fbErr == nil {
			data = fbData
		}
		cancel()
	}

	if data == nil {
		return fail("Screenshot failed: native, CDP, and fallback browser capture all timed out")
	}

	r := ok(fmt.Sprintf("Screenshot taken (%d bytes)", len(data)))
	r["screenshot"] = base64.StdEncoding.EncodeToString(data)
	r["size"] = len(data)
	return r
}

// actionWait sleeps for the requested milliseconds.
func actionWait(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	msWait := pInt(params, "ms", 1000)
	sleepCtx(ctx, time.Duration(msWait)*time.Millisecond)
	return ok(fmt.Sprintf("Waited %dms", msWait))
}

// evaluateOutputCap bounds the serialized result of evaluate.
const evaluateOutputCap = 50_000

// actionEvaluate executes JavaScript, optionally inside a frame matched
// by URL substring. Disabled by config unless evaluate is enabled.
func actionEvaluate(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	if !actx.d.evaluateEnabled {
		return fail("evaluate action is disabled. Set BROWSERD_BROWSER_EVALUATE_ENABLED=1 to enable.")
	}
	js := pStr(params, "js")
	if js == "" {
		return fail("Missing required param: js")
	}

	timeoutS := pInt(params, "timeout_s", 30)
	evalCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
	defer cancel()

	var raw any
	var err error
	if frameURL := pStr(params, "frame_url"); frameURL != "" {
		var target browser.Frame
		var frameURLs []string
		for _, f := range page.Frames() {
			u := f.URL()
			if len(u) > 80 {
				u = u[:80]
			}
			frameURLs = append(frameURLs, u)
			if target == nil && strings.Contains(f.URL(), frameURL) {
				target = f
			}
		}
		if target == nil {
			return fail(fmt.Sprintf("No frame matching %q found. Frames: %v", frameURL, frameURLs))
		}
		raw, err = target.Evaluate(evalCtx, js)
	} else {
		raw, err = page.Evaluate(evalCtx, js)
	}
	if err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return fail(fmt.Sprintf("evaluate timed out after %ds", timeoutS))
		}
		return failErr(err)
	}

	content := serializeEvalResult(raw)
	if len(content) > evaluateOutputCap {
		content = content[:evaluateOutputCap] + "\n... [truncated]"
	}
	return ok(content)
}

// serializeEvalResult renders an evaluate result: scalars as plain
// strings, structured values as indented JSON.
func serializeEvalResult(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return fmt.Sprintf("%v", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", raw)
		}
		return string(data)
	}
}

// actionDone marks the task complete with the caller's result payload.
func actionDone(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	content := pStr(params, "result")
	if content == "" {
		content = "Task completed."
	}
	return Result{
		"success":           pBool(params, "success", true),
		"extracted_content": content,
	}
}
