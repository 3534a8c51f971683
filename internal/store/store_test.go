package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestOpenMigratesAndPings(t *testing.T) {
	st := newTestStore(t)
	if err := st.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
	// Re-running migrations is a no-op.
	if err := st.Migrate(); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	if err := st.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionRoundTrip(t *testing.T) {
	st := newTestStore(t)

	meta := SessionMeta{ID: "abc123def456", Tier: 2, Profile: "work", PID: 4242, CreatedAt: time.Now()}
	if err := st.SaveSession(meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := st.GetSession("abc123def456")
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v, %v", got, err)
	}
	if got.Tier != 2 || got.Profile != "work" || got.PID != 4242 {
		t.Errorf("row = %+v", got)
	}

	all, err := st.ListSessions()
	if err != nil || len(all) != 1 {
		t.Fatalf("ListSessions: %v, %v", all, err)
	}

	if err := st.DeleteSession("abc123def456"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if got, _ := st.GetSession("abc123def456"); got != nil {
		t.Error("deleted session still present")
	}
}

// ---------------------------------------------------------------------------
// Action audit log
// ---------------------------------------------------------------------------

func TestActionAudit(t *testing.T) {
	st := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := st.RecordAction(ActionRecord{
			SessionID: "s1", Verb: "click", Domain: "example.com",
			Success: true, DurationMS: 12,
		}); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}
	_ = st.RecordAction(ActionRecord{SessionID: "s2", Verb: "navigate", Success: false, ErrorCode: "TIMEOUT_NAVIGATION"})

	n, err := st.ActionCount("s1")
	if err != nil || n != 3 {
		t.Errorf("ActionCount(s1) = %d, %v, want 3", n, err)
	}
	n, _ = st.ActionCount("s2")
	if n != 1 {
		t.Errorf("ActionCount(s2) = %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Fingerprints
// ---------------------------------------------------------------------------

func TestFingerprintRoundTrip(t *testing.T) {
	st := newTestStore(t)

	row := FingerprintRow{
		FingerprintID: "fp-1", Domain: "example.com", Browser: "chrome",
		BrowserVersion: "142", UserAgent: "Mozilla/5.0 ...", Geo: "us",
		CreatedAt: time.Now(), LastUsed: time.Now(),
	}
	if err := st.SaveFingerprint(row); err != nil {
		t.Fatalf("SaveFingerprint: %v", err)
	}

	got, err := st.GetFingerprintForDomain("example.com")
	if err != nil || got == nil {
		t.Fatalf("GetFingerprintForDomain: %v, %v", got, err)
	}
	if got.Browser != "chrome" {
		t.Errorf("row = %+v", got)
	}

	if err := st.RecordFingerprintUsage("fp-1", true); err != nil {
		t.Fatalf("RecordFingerprintUsage: %v", err)
	}
	if err := st.RecordFingerprintUsage("fp-1", false); err != nil {
		t.Fatal(err)
	}
	got, _ = st.GetFingerprint("fp-1")
	if got.UseCount != 2 || got.SuccessCount != 1 || got.BlockCount != 1 {
		t.Errorf("counters = %d/%d/%d", got.UseCount, got.SuccessCount, got.BlockCount)
	}

	existed, err := st.DeleteFingerprint("fp-1")
	if err != nil || !existed {
		t.Errorf("DeleteFingerprint = %v, %v", existed, err)
	}
	if got, _ := st.GetFingerprint("fp-1"); got != nil {
		t.Error("deleted fingerprint still present")
	}
}

// ---------------------------------------------------------------------------
// Pruning
// ---------------------------------------------------------------------------

func TestPruneOldRows(t *testing.T) {
	st := newTestStore(t)

	// An old action: insert directly with a back-dated timestamp.
	if _, err := st.writer.Exec(
		`INSERT INTO actions (id, session_id, timestamp, verb, domain, success, duration_ms, error_code)
		 VALUES ('a1', 's1', ?, 'click', '', 1, 0, '')`,
		time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339),
	); err != nil {
		t.Fatal(err)
	}
	_ = st.RecordAction(ActionRecord{SessionID: "s1", Verb: "click", Success: true})

	n, err := st.Prune(30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	count, _ := st.ActionCount("s1")
	if count != 1 {
		t.Errorf("remaining actions = %d, want 1", count)
	}
}
