package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/allaspectsdev/browserd/internal/browser"
)

func init() {
	register("upload_file", actionUploadFile)
	register("get_downloads", actionGetDownloads)
	register("click_coordinate", actionClickCoordinate)
}

// hasFileInputJS reports whether the element is, contains, or sits
// within three ancestor levels of a file input.
const hasFileInputJS = `
(el) => {
    if (el.tagName === 'INPUT' && el.type === 'file') return true;
    if (el.querySelector('input[type="file"]')) return true;
    let current = el;
    for (let i = 0; i < 3 && current; i++) {
        current = current.parentElement;
        if (!current) break;
        if (current.querySelector('input[type="file"]')) return true;
    }
    return false;
}
`

// fileInputSelectorJS returns a page-level selector for an ancestor's
// file input, or null when the element itself (or a descendant) is the
// input and a locator-scoped search should be used. It also returns null
// when the ancestor's file input has neither an id nor a name.
const fileInputSelectorJS = `
(el) => {
    if (el.tagName === 'INPUT' && el.type === 'file') return null;
    let fi = el.querySelector('input[type="file"]');
    if (fi) return null;
    let current = el;
    for (let i = 0; i < 3 && current; i++) {
        current = current.parentElement;
        if (!current) break;
        fi = current.querySelector('input[type="file"]');
        if (fi) {
            if (fi.id) return '#' + CSS.escape(fi.id);
            if (fi.name) return 'input[type="file"][name="' + CSS.escape(fi.name) + '"]';
            return null;
        }
    }
    return null;
}
`

// actionUploadFile attaches a server-side file to the file input
// nearest to the ref: the ref itself, a descendant, or an ancestor
// within three levels. A page-wide fallback is refused when ambiguous.
func actionUploadFile(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	ref := pStr(params, "ref")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	path := pStr(params, "path")
	if path == "" {
		return fail("Missing required param: path")
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fail("File not found: " + path)
	}

	locator := resolveRef(page, ref, actx.RefMap)
	if locator == nil {
		return refNotFound(ref)
	}

	hasInput, err := locator.Evaluate(ctx, hasFileInputJS)
	if err != nil {
		return failErr(err)
	}

	var fileLocator browser.Locator
	if has, _ := hasInput.(bool); has {
		selRaw, err := locator.Evaluate(ctx, fileInputSelectorJS)
		if err != nil {
			return failErr(err)
		}
		if sel, isStr := selRaw.(string); isStr && sel != "" {
			fileLocator = page.Locator(sel).First()
		} else {
			child := locator.Locator(`input[type="file"]`)
			if n, _ := child.Count(); n > 0 {
				fileLocator = child.First()
			} else {
				// The ref itself is the file input.
				fileLocator = locator
			}
		}
	} else {
		// Last resort: a page-wide input, but only when unambiguous.
		pageWide := page.Locator(`input[type="file"]`)
		n, err := pageWide.Count()
		if err != nil {
			return failErr(err)
		}
		if n == 0 {
			return fail("No file input found on page")
		}
		if n > 1 {
			return fail(fmt.Sprintf("Found %d file inputs on page. Use a ref closer to the target upload area.", n))
		}
		fileLocator = pageWide.First()
	}

	if err := fileLocator.SetInputFiles(ctx, path); err != nil {
		return failErr(err)
	}

	r := ok(fmt.Sprintf("Uploaded %s via file input near %s", filepath.Base(path), ref))
	r["page_changed"] = true
	return r
}

// actionGetDownloads lists files captured during the session. Read-only.
func actionGetDownloads(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	downloads := actx.Downloads
	if len(downloads) == 0 {
		return ok("No files downloaded in this session.")
	}

	lines := make([]string, 0, len(downloads))
	for i, d := range downloads {
		lines = append(lines, fmt.Sprintf("  [%d] %s (%d bytes) -> %s", i+1, d.Filename, d.Size, d.Path))
	}
	r := ok(fmt.Sprintf("%d file(s) downloaded:\n%s", len(downloads), strings.Join(lines, "\n")))
	r["downloads"] = downloads
	return r
}

// actionClickCoordinate clicks at viewport-relative coordinates. Last
// resort when ref-based clicking fails.
func actionClickCoordinate(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	x, okX := pFloat(params, "x")
	y, okY := pFloat(params, "y")
	if !okX || !okY {
		return fail("Missing required params: x, y (numeric)")
	}

	oldURL := page.URL()

	if actx.Humanize {
		if err := actx.humanizer().MoveAndClickAt(ctx, page, x, y); err != nil {
			return failErr(err)
		}
	} else {
		if err := page.Mouse().Click(x, y); err != nil {
			return failErr(err)
		}
	}

	settle(ctx, actx)

	newURL := page.URL()
	r := ok(fmt.Sprintf("Clicked at (%g, %g)", x, y))
	r["page_changed"] = newURL != oldURL
	if newURL != oldURL {
		title, _ := page.Title()
		r["new_url"] = newURL
		r["new_title"] = title
	}
	return r
}
