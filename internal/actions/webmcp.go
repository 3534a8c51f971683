package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/session"
)

func init() {
	register("webmcp_discover", actionWebMCPDiscover)
	register("webmcp_call", actionWebMCPCall)
}

// webmcpDiscoverJS probes the native model-context discovery API first,
// then falls back to the injected interceptor mirroring tool
// registrations and declarative-form scans.
const webmcpDiscoverJS = `
() => {
    if (navigator.modelContextTesting && typeof navigator.modelContextTesting.listTools === 'function') {
        const tools = navigator.modelContextTesting.listTools();
        return {
            available: true,
            source: 'native',
            tools: tools.map(t => ({
                name: t.name,
                description: t.description,
                inputSchema: typeof t.inputSchema === 'string'
                    ? JSON.parse(t.inputSchema) : (t.inputSchema || {}),
            })),
        };
    }

    if (window.__webmcp) {
        if (typeof window.__webmcp.rescanDeclarative === 'function') {
            window.__webmcp.rescanDeclarative();
        }
        const allTools = [];
        for (const [name, t] of Object.entries(window.__webmcp.tools || {})) {
            allTools.push({
                name: t.name,
                description: t.description,
                inputSchema: t.inputSchema,
                type: 'imperative',
            });
        }
        for (const [name, t] of Object.entries(window.__webmcp.declarative || {})) {
            allTools.push({
                name: t.name,
                description: t.description,
                inputSchema: t.inputSchema,
                type: 'declarative',
            });
        }
        return { available: window.__webmcp.available, source: 'interceptor', tools: allTools };
    }

    return { available: false, source: 'none', tools: [] };
}
`

// webmcpCallJS executes a discovered tool: native API first (JSON string
// args, null return signals cross-document navigation), interceptor
// fallback (object args).
const webmcpCallJS = `async ([name, argsJson]) => {
    if (navigator.modelContextTesting &&
        typeof navigator.modelContextTesting.executeTool === 'function') {
        const r = await navigator.modelContextTesting.executeTool(name, argsJson);
        if (r === null) return { _navigated: true };
        try { return JSON.parse(r); } catch { return { text: r }; }
    }
    if (window.__webmcp && typeof window.__webmcp.executeTool === 'function') {
        return await window.__webmcp.executeTool(name, JSON.parse(argsJson));
    }
    return { error: 'No WebMCP execution path available' };
}`

// actionWebMCPDiscover probes the page for advertised tools and stores
// them in the session context.
func actionWebMCPDiscover(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	if actx.d.webmcpMode == "0" {
		return fail("WebMCP is disabled. Set BROWSERD_BROWSER_WEBMCP=auto to enable.")
	}
	raw, err := page.Evaluate(ctx, webmcpDiscoverJS)
	if err != nil {
		actx.Session.Tools = map[string]session.Tool{}
		return failErr(err)
	}

	payload, _ := raw.(map[string]any)
	available, _ := payload["available"].(bool)
	source, _ := payload["source"].(string)

	tools := map[string]session.Tool{}
	if list, isList := payload["tools"].([]any); isList {
		for _, item := range list {
			m, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			name, _ := m["name"].(string)
			if name == "" {
				continue
			}
			desc, _ := m["description"].(string)
			kind, _ := m["type"].(string)
			tools[name] = session.Tool{
				Name:        name,
				Description: desc,
				InputSchema: m["inputSchema"],
				Type:        kind,
			}
		}
	}
	actx.Session.Tools = tools
	actx.Tools = tools

	summary, _ := json.MarshalIndent(payload, "", "  ")
	r := ok(string(summary))
	r["webmcp_available"] = available
	r["webmcp_source"] = source
	r["tool_count"] = len(tools)
	return r
}

// actionWebMCPCall executes a discovered tool, tolerating
// cross-document navigation: a destroyed JS context with a changed URL
// is a success with page_changed=true.
func actionWebMCPCall(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	toolName := pStr(params, "tool")
	if toolName == "" {
		return fail("Missing required param: tool")
	}

	if _, known := actx.Tools[toolName]; !known {
		var names []string
		for n := range actx.Tools {
			names = append(names, n)
		}
		sort.Strings(names)
		hint := "Run webmcp_discover first"
		if len(names) > 0 {
			hint = "Available: " + strings.Join(names, ", ")
		}
		return fail(fmt.Sprintf("Tool %q not found. %s", toolName, hint))
	}

	args := params["args"]
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fail(fmt.Sprintf("encoding args: %v", err))
	}

	oldURL := page.URL()

	evalCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	raw, evalErr := page.Evaluate(evalCtx, webmcpCallJS, []any{toolName, string(argsJSON)})
	cancel()
	if evalErr != nil {
		// The tool may have triggered navigation, destroying the JS
		// context mid-call. Wait briefly; a changed URL is the success
		// signal.
		sleepCtx(ctx, time.Second)
		if newURL := page.URL(); newURL != oldURL {
			title, _ := page.Title()
			r := ok("Tool triggered navigation (cross-document)")
			r["page_changed"] = true
			r["new_url"] = newURL
			r["new_title"] = title
			return r
		}
		return failErr(evalErr)
	}

	// Give the page a moment to apply the tool's effects.
	sleepCtx(ctx, 500*time.Millisecond)
	newURL := page.URL()

	r := Result{"success": true, "page_changed": newURL != oldURL}
	if payload, isMap := raw.(map[string]any); isMap {
		switch {
		case payload["_navigated"] == true:
			r["extracted_content"] = "Tool triggered navigation"
			r["page_changed"] = true
		case payload["error"] != nil:
			r["success"] = false
			r["error"] = fmt.Sprintf("%v", payload["error"])
		default:
			encoded, _ := json.MarshalIndent(payload, "", "  ")
			r["extracted_content"] = string(encoded)
		}
	} else if raw != nil {
		r["extracted_content"] = fmt.Sprintf("%v", raw)
	} else {
		r["extracted_content"] = "Tool executed (no return value)"
	}

	if newURL != oldURL {
		title, _ := page.Title()
		r["new_url"] = newURL
		r["new_title"] = title
	}
	return r
}
