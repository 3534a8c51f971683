// Package snapshot parses the runtime's accessibility-tree text into an
// annotated tree plus a stable ref map (@e1, @e2, ...), discovers
// cursor-interactive elements the tree misses, and diffs successive
// snapshots per session.
package snapshot

import (
	"fmt"
	"regexp"
	"strings"
)

// Role classification. A node gets a ref iff it is interactive, or it is
// content with a non-empty name. Nameless structural nodes are flattened
// out of the output in compact mode.

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "listbox": true, "menuitem": true,
	"option": true, "searchbox": true, "slider": true, "spinbutton": true,
	"switch": true, "tab": true, "treeitem": true,
	"menuitemcheckbox": true, "menuitemradio": true,
}

var contentRoles = map[string]bool{
	"heading": true, "cell": true, "gridcell": true, "columnheader": true,
	"rowheader": true, "listitem": true, "article": true, "region": true,
	"main": true, "navigation": true, "complementary": true, "banner": true,
	"contentinfo": true, "form": true, "search": true, "feed": true,
	"figure": true, "img": true, "math": true, "note": true, "status": true,
	"timer": true, "alert": true, "log": true, "marquee": true,
	"progressbar": true, "meter": true,
}

var structuralRoles = map[string]bool{
	"generic": true, "group": true, "list": true, "table": true,
	"row": true, "rowgroup": true, "menu": true, "toolbar": true,
	"tablist": true, "tabpanel": true, "tree": true, "treegrid": true,
	"grid": true, "presentation": true, "none": true, "separator": true,
	"dialog": true, "alertdialog": true, "application": true,
	"document": true, "directory": true, "paragraph": true,
}

// Metadata bullets carried by the tree text that are never rendered.
var skipPrefixes = []string{"- /url:", "- /src:", "- /alt:"}

// linePattern matches one tree bullet: indent, role, optional quoted
// name (with escaped quotes), optional [attr=val] groups, optional
// trailing colon.
var linePattern = regexp.MustCompile(
	`^(\s*)-\s+(\w+)(?:\s+"((?:[^"\\]|\\.)*)")?((?:\s+\[\w+=\w+\])*)\s*:?\s*$`)

var attrPattern = regexp.MustCompile(`\[(\w+)=(\w+)\]`)

// RefEntry is one record of the ref map.
type RefEntry struct {
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector"`
	Nth      *int   `json:"nth,omitempty"`
}

// Key returns the (role, name, nth?) identity used by the diff engine.
func (r RefEntry) Key() string {
	nth := ""
	if r.Nth != nil {
		nth = fmt.Sprintf("%d", *r.Nth)
	}
	return r.Role + ":" + r.Name + ":" + nth
}

// RefMap maps "@eN" tokens to their entries.
type RefMap map[string]RefEntry

// treeLine pairs a rendered line with the ref it carries (if any) so the
// diff engine can annotate lines in place.
type treeLine struct {
	text string
	ref  string // "@eN" or ""
}

// buildSelector renders the accessibility-role locator description kept
// in the ref map for ARIA-addressed elements.
func buildSelector(role, name string) string {
	if name != "" {
		escaped := strings.ReplaceAll(name, `"`, `\"`)
		return fmt.Sprintf(`getByRole("%s", name="%s", exact=true)`, role, escaped)
	}
	return fmt.Sprintf(`getByRole("%s")`, role)
}

// indentLevel counts two-space indentation steps.
func indentLevel(line string) int {
	stripped := strings.TrimLeft(line, " ")
	return (len(line) - len(stripped)) / 2
}

// roleNameTracker assigns document-order nth indices per (role, name)
// pair and remembers which pairs occurred more than once.
type roleNameTracker struct {
	counts map[string][]string // key -> refs in order
}

func newRoleNameTracker() *roleNameTracker {
	return &roleNameTracker{counts: make(map[string][]string)}
}

func trackerKey(role, name string) string {
	return role + ":" + name
}

func (t *roleNameTracker) nextIndex(role, name, ref string) int {
	k := trackerKey(role, name)
	idx := len(t.counts[k])
	t.counts[k] = append(t.counts[k], ref)
	return idx
}

func (t *roleNameTracker) duplicateKeys() map[string]bool {
	dups := make(map[string]bool)
	for k, refs := range t.counts {
		if len(refs) > 1 {
			dups[k] = true
		}
	}
	return dups
}

// refCounter numbers refs monotonically across one snapshot pass,
// including the cursor-interactive append, so refs never collide.
type refCounter int

func (c *refCounter) next() string {
	*c++
	return fmt.Sprintf("e%d", int(*c))
}

// processAriaText parses the raw tree text. In compact mode, text nodes
// are dropped and nameless structural nodes are flattened (their
// descendants still processed). Lines deeper than maxDepth are dropped.
func processAriaText(raw string, compact bool, maxDepth int, counter *refCounter) ([]treeLine, RefMap) {
	refs := make(RefMap)
	tracker := newRoleNameTracker()
	var out []treeLine
	rawLines := strings.Split(raw, "\n")

	for _, line := range rawLines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		skip := false
		for _, p := range skipPrefixes {
			if strings.HasPrefix(stripped, p) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		// Plain text content lines surface only in non-compact mode.
		if strings.HasPrefix(stripped, "- text:") {
			if !compact {
				content := strings.TrimSpace(strings.TrimPrefix(stripped, "- text:"))
				content = strings.Trim(content, `"`)
				if content != "" {
					indent := strings.Repeat("  ", indentLevel(line))
					out = append(out, treeLine{text: fmt.Sprintf(`%s- text "%s"`, indent, content)})
				}
			}
			continue
		}

		indent := indentLevel(line)
		if indent > maxDepth {
			continue
		}

		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			if !compact && strings.HasPrefix(stripped, "- ") {
				out = append(out, treeLine{text: line})
			}
			continue
		}

		role := strings.ToLower(m[2])
		name := m[3]
		attrsStr := m[4]

		isInteractive := interactiveRoles[role]
		isContent := contentRoles[role]
		isStructural := structuralRoles[role]

		// Compact mode flattens nameless structural nodes: the node line
		// is dropped; descendants are processed normally by the linear
		// scan.
		if compact && isStructural && name == "" {
			continue
		}

		shouldRef := isInteractive || (isContent && name != "")

		parts := []string{strings.Repeat("  ", indent) + "- " + role}
		refToken := ""
		if shouldRef {
			ref := counter.next()
			refToken = "@" + ref
			nth := tracker.nextIndex(role, name, refToken)
			refs[refToken] = RefEntry{
				Role:     role,
				Name:     name,
				Selector: buildSelector(role, name),
				Nth:      intPtr(nth),
			}
			if name != "" {
				parts = append(parts, `"`+name+`"`)
			}
			parts = append(parts, refToken)
		} else if name != "" {
			parts = append(parts, `"`+name+`"`)
		}

		for _, attr := range attrPattern.FindAllStringSubmatch(attrsStr, -1) {
			parts = append(parts, "["+attr[1]+"="+attr[2]+"]")
		}

		out = append(out, treeLine{text: strings.Join(parts, " "), ref: refToken})
	}

	// Drop nth from entries whose (role, name) occurred exactly once.
	dups := tracker.duplicateKeys()
	for token, entry := range refs {
		if !dups[trackerKey(entry.Role, entry.Name)] {
			entry.Nth = nil
			refs[token] = entry
		}
	}

	return out, refs
}

func intPtr(i int) *int {
	return &i
}
