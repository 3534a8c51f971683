package snapshot

import (
	"fmt"
	"strings"
	"testing"
)

const exampleTree = `- generic:
  - banner:
    - heading "Example Domain"
  - paragraph:
    - text: "This domain is for use in examples."
  - link "More information...":
    - /url: https://www.iana.org/domains/example
`

func parseCompact(t *testing.T, raw string) ([]treeLine, RefMap) {
	t.Helper()
	var counter refCounter
	return processAriaText(raw, true, 10, &counter)
}

// ---------------------------------------------------------------------------
// Ref assignment
// ---------------------------------------------------------------------------

func TestParse_RefsAreDenseFromOne(t *testing.T) {
	_, refs := parseCompact(t, exampleTree)

	if len(refs) != 2 {
		t.Fatalf("ref count = %d, want 2 (heading + link)", len(refs))
	}
	for i := 1; i <= len(refs); i++ {
		if _, ok := refs[fmt.Sprintf("@e%d", i)]; !ok {
			t.Errorf("missing @e%d; map keys must be dense", i)
		}
	}
}

func TestParse_InteractiveAlwaysGetsRef(t *testing.T) {
	_, refs := parseCompact(t, `- button:
- link "Go":
`)
	var roles []string
	for _, r := range refs {
		roles = append(roles, r.Role)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want nameless button and named link", roles)
	}
}

func TestParse_ContentNeedsName(t *testing.T) {
	_, refs := parseCompact(t, `- heading "Title":
- heading:
- img "Logo":
- img:
`)
	if len(refs) != 2 {
		t.Errorf("ref count = %d, want 2 (only named content nodes)", len(refs))
	}
}

func TestParse_StructuralNamelessFlattened(t *testing.T) {
	lines, refs := parseCompact(t, exampleTree)

	text := joinTree(lines)
	if strings.Contains(text, "generic") || strings.Contains(text, "paragraph") {
		t.Errorf("nameless structural nodes should be flattened:\n%s", text)
	}
	// Their descendants still produce refs.
	if len(refs) != 2 {
		t.Errorf("descendants of flattened nodes must be processed, refs = %d", len(refs))
	}
}

func TestParse_MetadataBulletsSkipped(t *testing.T) {
	lines, _ := parseCompact(t, exampleTree)
	if strings.Contains(joinTree(lines), "/url") {
		t.Error("metadata bullets must not render")
	}
}

func TestParse_TextNodesOnlyNonCompact(t *testing.T) {
	var counter refCounter
	compactLines, _ := processAriaText(exampleTree, true, 10, &counter)
	if strings.Contains(joinTree(compactLines), "This domain") {
		t.Error("compact mode should drop text nodes")
	}

	var counter2 refCounter
	fullLines, _ := processAriaText(exampleTree, false, 10, &counter2)
	if !strings.Contains(joinTree(fullLines), "This domain") {
		t.Error("non-compact mode should keep text nodes")
	}
}

func TestParse_MaxDepthDropsDeepLines(t *testing.T) {
	deep := "- link \"top\":\n" + strings.Repeat("  ", 12) + "- link \"deep\"\n"
	var counter refCounter
	_, refs := processAriaText(deep, true, 10, &counter)
	if len(refs) != 1 {
		t.Errorf("refs = %d, want 1 (deep line dropped)", len(refs))
	}
}

func TestParse_EscapedQuotesInName(t *testing.T) {
	_, refs := parseCompact(t, `- button "Click \"here\" now":
`)
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1", len(refs))
	}
	entry := refs["@e1"]
	if !strings.Contains(entry.Name, `\"here\"`) {
		t.Errorf("name = %q, want escaped quotes preserved", entry.Name)
	}
}

func TestParse_AttributesPreserved(t *testing.T) {
	lines, _ := parseCompact(t, `- checkbox "Agree" [checked=true]:
`)
	if !strings.Contains(joinTree(lines), "[checked=true]") {
		t.Error("attributes should render on the output line")
	}
}

// ---------------------------------------------------------------------------
// Duplicate handling
// ---------------------------------------------------------------------------

func TestParse_NthOnlyOnDuplicates(t *testing.T) {
	_, refs := parseCompact(t, `- button "Add":
- button "Add":
- button "Remove":
`)

	var addNths []int
	for _, r := range refs {
		switch r.Name {
		case "Add":
			if r.Nth == nil {
				t.Fatal("duplicate (role,name) must carry nth")
			}
			addNths = append(addNths, *r.Nth)
		case "Remove":
			if r.Nth != nil {
				t.Errorf("unique (role,name) must not carry nth, got %d", *r.Nth)
			}
		}
	}
	if len(addNths) != 2 {
		t.Fatalf("Add occurrences = %d, want 2", len(addNths))
	}
	seen := map[int]bool{}
	for _, n := range addNths {
		seen[n] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("nth values = %v, want document-order 0 and 1", addNths)
	}
}

// ---------------------------------------------------------------------------
// Selector construction
// ---------------------------------------------------------------------------

func TestBuildSelector(t *testing.T) {
	withName := buildSelector("button", `Say "hi"`)
	if !strings.Contains(withName, `name="Say \"hi\""`) || !strings.Contains(withName, "exact=true") {
		t.Errorf("selector = %q", withName)
	}
	if got := buildSelector("button", ""); got != `getByRole("button")` {
		t.Errorf("nameless selector = %q", got)
	}
}

func TestRefEntryKey(t *testing.T) {
	nth := 1
	withNth := RefEntry{Role: "button", Name: "Add", Nth: &nth}
	without := RefEntry{Role: "button", Name: "Add"}
	if withNth.Key() == without.Key() {
		t.Error("nth must distinguish keys")
	}
	if withNth.Key() != "button:Add:1" {
		t.Errorf("key = %q", withNth.Key())
	}
}

func joinTree(lines []treeLine) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.text)
		sb.WriteString("\n")
	}
	return sb.String()
}
