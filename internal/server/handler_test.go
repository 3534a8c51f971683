package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/browserd/internal/actions"
	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/browser/browsertest"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/ratelimit"
	"github.com/allaspectsdev/browserd/internal/session"
	"github.com/allaspectsdev/browserd/internal/snapshot"
	"github.com/allaspectsdev/browserd/internal/solver"
)

const exampleTree = `- heading "Example Domain"
- link "More information...":
  - /url: https://www.iana.org/domains/example
`

func newTestServer(t *testing.T, authToken string) (*Server, *browsertest.FakeTier) {
	t.Helper()
	profiles, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	snapEngine, err := snapshot.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	tier := &browsertest.FakeTier{TierNumber: 1}
	registry := session.NewRegistry(session.Options{
		MaxSessions:  5,
		IdleTTL:      time.Hour,
		DownloadRoot: t.TempDir(),
	}, browser.NewRegistryWith(tier), profiles, nil, snapEngine)

	dispatcher := actions.NewDispatcher(registry,
		ratelimit.New(map[string]int{"default": 100}),
		solver.New("", ""), nil, actions.Config{EvaluateEnabled: true})

	domainTiers, err := profile.NewDomainTiers(profiles.Root())
	if err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(registry, dispatcher, profiles, domainTiers, 100_000)
	return NewServer(handler, "127.0.0.1:0", authToken, 0, 0, 0, false), tier
}

func post(t *testing.T, srv *Server, body map[string]any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v (%s)", err, rec.Body.String())
	}
	return rec.Code, out
}

// launchSession drives a full launch through the HTTP layer.
func launchSession(t *testing.T, srv *Server, tier *browsertest.FakeTier) string {
	t.Helper()
	_, out := post(t, srv, map[string]any{"op": "launch", "tier": 1}, nil)
	if out["success"] != true {
		t.Fatalf("launch failed: %v", out["error"])
	}
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatal("missing session_id")
	}

	// Give the fresh page a tree to snapshot.
	page := tier.LastContext.Pages()[0].(*browsertest.FakePage)
	page.TitleByURL["https://example.com/"] = "Example Domain"
	page.SetLocation("https://example.com/")
	page.AriaTree = exampleTree
	return id
}

// ---------------------------------------------------------------------------
// Basic ops
// ---------------------------------------------------------------------------

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, "")
	code, out := post(t, srv, map[string]any{"op": "ping"}, nil)
	if code != http.StatusOK || out["success"] != true || out["message"] != "pong" {
		t.Errorf("ping = %d %v", code, out)
	}
}

func TestUnknownOp(t *testing.T) {
	srv, _ := newTestServer(t, "")
	_, out := post(t, srv, map[string]any{"op": "fly"}, nil)
	if out["success"] != false {
		t.Fatal("unknown op should fail")
	}
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "launch") {
		t.Errorf("error = %q, want op listing", msg)
	}
}

func TestInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	// Health is reachable without auth.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["status"] != "ok" || out["active_sessions"] != float64(0) {
		t.Errorf("health = %v", out)
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuth_MissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	code, out := post(t, srv, map[string]any{"op": "ping"}, nil)
	if code != http.StatusUnauthorized || out["success"] != false {
		t.Errorf("missing auth = %d %v", code, out)
	}
}

func TestAuth_WrongToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	code, _ := post(t, srv, map[string]any{"op": "ping"},
		map[string]string{"Authorization": "Bearer wrong"})
	if code != http.StatusForbidden {
		t.Errorf("wrong token = %d, want 403", code)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	code, out := post(t, srv, map[string]any{"op": "ping"},
		map[string]string{"Authorization": "Bearer secret"})
	if code != http.StatusOK || out["success"] != true {
		t.Errorf("valid token = %d %v", code, out)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flows through the HTTP layer
// ---------------------------------------------------------------------------

func TestLaunchSnapshotClickFlow(t *testing.T) {
	srv, tier := newTestServer(t, "")
	id := launchSession(t, srv, tier)

	// Snapshot: refs non-empty, link present.
	_, snap := post(t, srv, map[string]any{
		"op": "snapshot", "session_id": id, "compact": true, "cursor_interactive": false,
	}, nil)
	if snap["success"] != true {
		t.Fatalf("snapshot failed: %v", snap["error"])
	}
	refs, _ := snap["refs"].(map[string]any)
	if len(refs) == 0 {
		t.Fatal("refs empty")
	}
	linkRef := ""
	for token, entry := range refs {
		m, _ := entry.(map[string]any)
		if m["role"] == "link" && m["name"] == "More information..." {
			linkRef = token
		}
	}
	if linkRef == "" {
		t.Fatalf("link ref missing in %v", refs)
	}

	// Click the ref; the fake page navigates.
	page := tier.LastContext.Pages()[0].(*browsertest.FakePage)
	page.TitleByURL["https://www.iana.org/domains/example"] = "IANA"
	page.OnClickNavigate = "https://www.iana.org/domains/example"

	_, click := post(t, srv, map[string]any{
		"op": "action", "session_id": id,
		"action": "click", "params": map[string]any{"ref": linkRef},
	}, nil)
	if click["success"] != true {
		t.Fatalf("click failed: %v", click["error"])
	}
	if click["page_changed"] != true {
		t.Error("click should report page_changed")
	}
	if click["new_url"] != "https://www.iana.org/domains/example" {
		t.Errorf("new_url = %v", click["new_url"])
	}

	// Status reports the session.
	_, status := post(t, srv, map[string]any{"op": "status"}, nil)
	sessions, _ := status["sessions"].([]any)
	if len(sessions) != 1 {
		t.Errorf("status sessions = %v", status)
	}

	// Close removes it.
	_, closed := post(t, srv, map[string]any{"op": "close", "session_id": id}, nil)
	if closed["success"] != true {
		t.Fatalf("close failed: %v", closed["error"])
	}
	_, statusAfter := post(t, srv, map[string]any{"op": "status"}, nil)
	if sessions, _ := statusAfter["sessions"].([]any); len(sessions) != 0 {
		t.Error("closed session still listed")
	}
}

func TestBatchOverLimitViaHTTP(t *testing.T) {
	srv, tier := newTestServer(t, "")
	id := launchSession(t, srv, tier)

	steps := make([]map[string]any, 21)
	for i := range steps {
		steps[i] = map[string]any{"action": "wait", "params": map[string]any{"ms": 1}}
	}
	_, out := post(t, srv, map[string]any{"op": "actions", "session_id": id, "actions": steps}, nil)
	if out["success"] != false {
		t.Fatal("21-step batch should fail")
	}
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "limited to 20") {
		t.Errorf("error = %q", msg)
	}
}

func TestProfileOpsViaHTTP(t *testing.T) {
	srv, _ := newTestServer(t, "")

	_, created := post(t, srv, map[string]any{
		"op": "profile", "action": "create", "name": "work", "domain": "example.com", "tier": 2,
	}, nil)
	if created["success"] != true {
		t.Fatalf("create failed: %v", created["error"])
	}

	_, listed := post(t, srv, map[string]any{"op": "profile", "action": "list"}, nil)
	profiles, _ := listed["profiles"].([]any)
	if len(profiles) != 1 {
		t.Errorf("profiles = %v", listed)
	}

	_, bad := post(t, srv, map[string]any{"op": "profile", "action": "create", "name": "../etc"}, nil)
	if bad["success"] != false {
		t.Error("traversal profile name must be rejected")
	}

	_, deleted := post(t, srv, map[string]any{"op": "profile", "action": "delete", "name": "work"}, nil)
	if deleted["success"] != true {
		t.Fatalf("delete failed: %v", deleted["error"])
	}
}

func TestMissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t, "")
	for _, op := range []string{"action", "actions", "snapshot", "screenshot", "close", "save"} {
		_, out := post(t, srv, map[string]any{"op": op}, nil)
		if out["success"] != false {
			t.Errorf("%s without session_id should fail", op)
		}
	}
}
