package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/browser/browsertest"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

func newTestRegistry(t *testing.T, tier *browsertest.FakeTier) *Registry {
	t.Helper()
	profiles, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	snapEngine, err := snapshot.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	tiers := browser.NewRegistryWith(tier)
	return NewRegistry(Options{
		MaxSessions:  3,
		IdleTTL:      time.Hour,
		DownloadRoot: t.TempDir(),
	}, tiers, profiles, nil, snapEngine)
}

func mustLaunch(t *testing.T, r *Registry) *LaunchResult {
	t.Helper()
	res, err := r.Launch(context.Background(), LaunchParams{Tier: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Launch
// ---------------------------------------------------------------------------

func TestLaunch_CreatesSession(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	r := newTestRegistry(t, tier)

	res := mustLaunch(t, r)
	if len(res.ID) != 12 {
		t.Errorf("session id %q, want 12 hex chars", res.ID)
	}
	if res.Tier != 1 {
		t.Errorf("tier = %d", res.Tier)
	}
	s := r.Get(res.ID)
	if s == nil {
		t.Fatal("session should be registered")
	}
	if s.Page == nil {
		t.Error("session should have an active page")
	}
	if tier.Inits != 1 {
		t.Errorf("tier Init calls = %d", tier.Inits)
	}
}

func TestLaunch_DistinctIDs(t *testing.T) {
	r := newTestRegistry(t, &browsertest.FakeTier{TierNumber: 1})

	a := mustLaunch(t, r)
	b := mustLaunch(t, r)
	if a.ID == b.ID {
		t.Error("concurrent sessions must have distinct ids")
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}
	if len(r.List()) != 2 {
		t.Errorf("List = %d entries, want 2", len(r.List()))
	}
}

func TestLaunch_UnknownTier(t *testing.T) {
	r := newTestRegistry(t, &browsertest.FakeTier{TierNumber: 1})
	if _, err := r.Launch(context.Background(), LaunchParams{Tier: 9}); err == nil {
		t.Error("unknown tier should fail")
	}
}

func TestLaunch_InitFailureIsRecoverable(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1, InitErr: fmt.Errorf("backend not installed")}
	r := newTestRegistry(t, tier)
	if _, err := r.Launch(context.Background(), LaunchParams{Tier: 1}); err == nil {
		t.Error("init failure must surface as an error, not a panic")
	}
	if r.Count() != 0 {
		t.Error("failed launch must not leave a session registered")
	}
}

func TestLaunch_BadProfileName(t *testing.T) {
	r := newTestRegistry(t, &browsertest.FakeTier{TierNumber: 1})
	if _, err := r.Launch(context.Background(), LaunchParams{Tier: 1, Profile: "../evil"}); err == nil {
		t.Error("traversal profile name must be rejected")
	}
}

func TestLaunch_SessionLimit(t *testing.T) {
	r := newTestRegistry(t, &browsertest.FakeTier{TierNumber: 1})
	for i := 0; i < 3; i++ {
		mustLaunch(t, r)
	}
	if _, err := r.Launch(context.Background(), LaunchParams{Tier: 1}); err == nil {
		t.Error("launch beyond max_sessions should fail")
	}
}

func TestLaunch_NavigatesToURLWithoutWarning(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	r := newTestRegistry(t, tier)

	res, err := r.Launch(context.Background(), LaunchParams{Tier: 1, URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if res.URL != "https://example.com/" {
		t.Errorf("url = %q", res.URL)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %q", res.Warning)
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestClose_RemovesSession(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	r := newTestRegistry(t, tier)
	res := mustLaunch(t, r)

	if err := r.Close(res.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Get(res.ID) != nil {
		t.Error("closed session must not resolve")
	}
	if tier.Teardowns != 1 {
		t.Errorf("teardown calls = %d", tier.Teardowns)
	}
	if err := r.Close(res.ID); err == nil {
		t.Error("closing twice should fail")
	}
}

func TestClose_TeardownFailureKeepsSession(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1, TeardownErr: fmt.Errorf("browser wedged")}
	r := newTestRegistry(t, tier)
	res := mustLaunch(t, r)

	if err := r.Close(res.ID); err == nil {
		t.Fatal("teardown failure must surface")
	}
	s := r.Get(res.ID)
	if s == nil {
		t.Fatal("session must stay registered for retry")
	}
	if s.Closing() {
		t.Error("closing flag must reset after failed teardown")
	}

	// Retry succeeds once the browser cooperates.
	tier.TeardownErr = nil
	if err := r.Close(res.ID); err != nil {
		t.Fatalf("retry Close: %v", err)
	}
	if r.Get(res.ID) != nil {
		t.Error("session should be gone after successful retry")
	}
}

// ---------------------------------------------------------------------------
// Tabs
// ---------------------------------------------------------------------------

func TestTabLifecycle(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	r := newTestRegistry(t, tier)
	res := mustLaunch(t, r)
	s := r.Get(res.ID)

	second, err := r.NewPage(context.Background(), res.ID, "https://b.example/")
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if s.Page != second {
		t.Error("new tab should become active")
	}

	if got := r.SwitchPage(res.ID, 0); got == nil || s.Page == second {
		t.Error("switch back to tab 0 failed")
	}
	if got := r.SwitchPage(res.ID, 5); got != nil {
		t.Error("out-of-range index should return nil")
	}

	if !r.ClosePage(res.ID, 1) {
		t.Fatal("closing tab 1 failed")
	}
	if len(tier.LastContext.Pages()) != 1 {
		t.Errorf("pages = %d, want 1", len(tier.LastContext.Pages()))
	}

	// Closing the last tab opens a blank replacement.
	if !r.ClosePage(res.ID, 0) {
		t.Fatal("closing last tab failed")
	}
	if len(tier.LastContext.Pages()) != 1 {
		t.Error("a blank page should replace the last closed tab")
	}
	if s.Page == nil {
		t.Error("session must always have an active page")
	}
}

// ---------------------------------------------------------------------------
// Idle sweep
// ---------------------------------------------------------------------------

func TestSweepIdle(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	profiles, _ := profile.NewStore(t.TempDir())
	snapEngine, _ := snapshot.NewEngine()
	r := NewRegistry(Options{
		MaxSessions:  3,
		IdleTTL:      10 * time.Millisecond,
		DownloadRoot: t.TempDir(),
	}, browser.NewRegistryWith(tier), profiles, nil, snapEngine)

	res := mustLaunch(t, r)
	fresh := mustLaunch(t, r)

	// Age the first session past the TTL, keep the second fresh.
	old := r.Get(res.ID)
	old.lastActivity.Store(time.Now().Add(-time.Minute).UnixNano())

	reaped := r.SweepIdle()
	if len(reaped) != 1 || reaped[0] != res.ID {
		t.Errorf("reaped = %v, want [%s]", reaped, res.ID)
	}
	if r.Get(fresh.ID) == nil {
		t.Error("fresh session must survive the sweep")
	}
}

// ---------------------------------------------------------------------------
// State save + handlers
// ---------------------------------------------------------------------------

func TestSaveState_DefaultsToSessionID(t *testing.T) {
	r := newTestRegistry(t, &browsertest.FakeTier{TierNumber: 1})
	res := mustLaunch(t, r)

	name, path, err := r.SaveState(res.ID, "")
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if name != res.ID {
		t.Errorf("profile name = %q, want session id fallback", name)
	}
	if path == "" {
		t.Error("path should point at storage.json")
	}
}

func TestDialogAndDownloadHandlers(t *testing.T) {
	tier := &browsertest.FakeTier{TierNumber: 1}
	r := newTestRegistry(t, tier)
	res := mustLaunch(t, r)
	s := r.Get(res.ID)
	page := s.Page.(*browsertest.FakePage)

	dialog := &browsertest.FakeDialog{DialogType: "alert", Msg: "Subscribe to our newsletter"}
	page.FireDialog(dialog)
	if !dialog.Dismissed {
		t.Error("alert should be dismissed")
	}
	dialogs := s.SnapshotDismissedDialogs()
	if len(dialogs) != 1 || dialogs[0].Action != "dismissed" {
		t.Errorf("dialog record = %+v", dialogs)
	}

	unload := &browsertest.FakeDialog{DialogType: "beforeunload"}
	page.FireDialog(unload)
	if !unload.Accepted {
		t.Error("beforeunload must be accepted so navigation can proceed")
	}

	page.FireDownload(&browsertest.FakeDownload{Filename: "report.csv", Content: []byte("a,b\n")})
	downloads := s.SnapshotDownloads()
	if len(downloads) != 1 || downloads[0].Filename != "report.csv" || downloads[0].Size != 4 {
		t.Errorf("download record = %+v", downloads)
	}
}
