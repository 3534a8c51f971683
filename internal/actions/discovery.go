package actions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/compaction"
)

func init() {
	register("search_page", actionSearchPage)
	register("find_elements", actionFindElements)
	register("extract", actionExtract)
}

// searchPageJS walks visible text nodes for a case-insensitive
// substring, returning snippets with surrounding context. Read-only.
const searchPageJS = `
(args) => {
    const query = args.query.toLowerCase();
    const maxResults = args.maxResults;
    const results = [];
    const walker = document.createTreeWalker(
        document.body, NodeFilter.SHOW_TEXT, null,
    );
    let node;
    while ((node = walker.nextNode()) && results.length < maxResults) {
        const text = node.textContent.trim();
        if (!text || text.length < 3) continue;
        const idx = text.toLowerCase().indexOf(query);
        if (idx === -1) continue;
        const start = Math.max(0, idx - 60);
        const end = Math.min(text.length, idx + query.length + 60);
        let snippet = text.slice(start, end).trim();
        if (start > 0) snippet = '...' + snippet;
        if (end < text.length) snippet = snippet + '...';
        const el = node.parentElement;
        const tag = el ? el.tagName.toLowerCase() : '?';
        results.push({snippet, tag});
    }
    return results;
}
`

// actionSearchPage searches page text and returns snippeted matches.
func actionSearchPage(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	query := strings.TrimSpace(pStr(params, "query"))
	if query == "" {
		return fail("Missing required param: query")
	}
	maxResults := pInt(params, "max_results", 10)

	raw, err := page.Evaluate(ctx, searchPageJS, map[string]any{
		"query":      query,
		"maxResults": maxResults,
	})
	if err != nil {
		return failErr(err)
	}

	matches, _ := raw.([]any)
	if len(matches) == 0 {
		return ok(fmt.Sprintf("No matches found for %q on this page.", query))
	}

	var lines []string
	for i, m := range matches {
		entry, isMap := m.(map[string]any)
		if !isMap {
			continue
		}
		snippet, _ := entry["snippet"].(string)
		tag, _ := entry["tag"].(string)
		lines = append(lines, fmt.Sprintf("  [%d] (%s) %s", i+1, tag, snippet))
	}
	r := ok(fmt.Sprintf("Found %d match(es) for %q:\n%s", len(lines), query, strings.Join(lines, "\n")))
	r["match_count"] = len(lines)
	return r
}

// actionFindElements filters the current ref map by name substring
// and/or role. It never re-snapshots; at least one criterion is
// required.
func actionFindElements(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	textQuery := strings.ToLower(strings.TrimSpace(pStr(params, "text")))
	roleQuery := strings.ToLower(strings.TrimSpace(pStr(params, "role")))

	if textQuery == "" && roleQuery == "" {
		return fail("Provide at least one of: text, role")
	}
	if len(actx.RefMap) == 0 {
		return fail("No snapshot taken yet. Take a snapshot first.")
	}

	var matches []string
	for token, entry := range actx.RefMap {
		if roleQuery != "" && strings.ToLower(entry.Role) != roleQuery {
			continue
		}
		if textQuery != "" && !strings.Contains(strings.ToLower(entry.Name), textQuery) {
			continue
		}
		matches = append(matches, fmt.Sprintf("  %s (%s) %q", token, entry.Role, entry.Name))
	}

	if len(matches) == 0 {
		return ok(fmt.Sprintf("No elements found matching criteria (text=%q, role=%q).", textQuery, roleQuery))
	}

	sort.Slice(matches, func(i, j int) bool {
		return refOrdinal(matches[i]) < refOrdinal(matches[j])
	})
	r := ok(fmt.Sprintf("Found %d matching element(s):\n%s", len(matches), strings.Join(matches, "\n")))
	r["match_count"] = len(matches)
	return r
}

// refOrdinal pulls the numeric part of a "  @eN (role) ..." listing
// line so matches sort in snapshot order.
func refOrdinal(line string) int {
	start := strings.Index(line, "@e")
	if start < 0 {
		return 0
	}
	end := start + 2
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(line[start+2 : end])
	return n
}

// extractTextJS renders the page's visible text with lightweight
// markdown structure: headings, list bullets, and link targets when
// requested.
const extractTextJS = `
(includeLinks) => {
    const blockTags = new Set(['P','DIV','SECTION','ARTICLE','LI','TR','BR',
        'H1','H2','H3','H4','H5','H6','UL','OL','TABLE','BLOCKQUOTE','PRE']);
    const skipTags = new Set(['SCRIPT','STYLE','NOSCRIPT','SVG','TEMPLATE']);
    const parts = [];

    const visit = (node) => {
        if (node.nodeType === Node.TEXT_NODE) {
            const text = node.textContent;
            if (text && text.trim()) parts.push(text);
            return;
        }
        if (node.nodeType !== Node.ELEMENT_NODE) return;
        const tag = node.tagName;
        if (skipTags.has(tag)) return;
        const style = node instanceof Element ? getComputedStyle(node) : null;
        if (style && (style.display === 'none' || style.visibility === 'hidden')) return;

        if (/^H[1-6]$/.test(tag)) {
            parts.push('\n\n' + '#'.repeat(Number(tag[1])) + ' ');
        } else if (tag === 'LI') {
            parts.push('\n- ');
        } else if (blockTags.has(tag)) {
            parts.push('\n');
        }

        for (const child of node.childNodes) visit(child);

        if (tag === 'A' && includeLinks) {
            const href = node.getAttribute('href');
            if (href && !href.startsWith('javascript:')) parts.push(' (' + href + ')');
        }
        if (blockTags.has(tag)) parts.push('\n');
    };

    if (document.body) visit(document.body);
    return parts.join('');
}
`

var (
	manyNewlinesRE = regexp.MustCompile(`\n{4,}`)
	trailingWSRE   = regexp.MustCompile(`[ \t]+\n`)
	jsonBlobRE     = regexp.MustCompile(`\{"\$type":[^}]{100,}\}`)
)

// actionExtract converts the page's visible text to a markdown-like
// form, collapses whitespace, and truncates at sentence or paragraph
// boundaries when possible.
func actionExtract(ctx context.Context, page browser.Page, params Params, actx *Ctx) Result {
	maxChars := pInt(params, "max_chars", 30_000)
	includeLinks := pBool(params, "include_links", false)

	raw, err := page.Evaluate(ctx, extractTextJS, includeLinks)
	if err != nil {
		return failErr(err)
	}
	content, _ := raw.(string)
	if strings.TrimSpace(content) == "" {
		return fail("Empty page body")
	}

	// Light cleanup: collapse whitespace, remove embedded JSON blobs,
	// drop noise lines.
	content = trailingWSRE.ReplaceAllString(content, "\n")
	content = manyNewlinesRE.ReplaceAllString(content, "\n\n\n")
	content = jsonBlobRE.ReplaceAllString(content, "")

	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 2 || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			kept = append(kept, line)
		}
	}
	content = strings.TrimSpace(strings.Join(kept, "\n"))

	truncated := false
	if len(content) > maxChars {
		cut := strings.LastIndex(content[:maxChars], "\n\n")
		if cut < 0 || cut < maxChars-500 {
			if dot := strings.LastIndex(content[:maxChars], "."); dot >= 0 && dot >= maxChars-200 {
				cut = dot + 1
			} else {
				cut = maxChars
			}
		}
		content = content[:cut]
		truncated = true
	}

	r := ok(content)
	r["char_count"] = len(content)
	r["url"] = page.URL()
	if tokens := compaction.CountTokens(content); tokens > 0 {
		r["token_count"] = tokens
	}
	if truncated {
		r["truncated"] = true
		r["hint"] = "Content truncated. Increase max_chars or extract specific sections."
	}
	return r
}
