package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Name validation
// ---------------------------------------------------------------------------

func TestValidateName_Rejections(t *testing.T) {
	bad := []string{
		"../x",
		"x/y",
		`x\y`,
		"",
		"x y",
		"a..b",
		"/abs",
		"..",
	}
	for _, name := range bad {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) should fail", name)
		}
	}
}

func TestValidateName_Accepts(t *testing.T) {
	good := []string{"work", "linkedin-main", "user_2", "a.b.c", "A-1_x.y"}
	for _, name := range good {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestSafePath_StaysUnderBase(t *testing.T) {
	base := t.TempDir()
	got, err := SafePath(base, "myprofile")
	if err != nil {
		t.Fatalf("SafePath: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(base)
	if resolved == "" {
		resolved = base
	}
	if !strings.HasPrefix(got, resolved) {
		t.Errorf("path %q escapes base %q", got, resolved)
	}
}

func TestSafePath_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	if _, err := SafePath(base, "../escape"); err == nil {
		t.Error("traversal name should be rejected")
	}
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

func TestCreateLoadListDelete(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Create("work", "example.com", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if meta.Name != "work" || meta.Tier != 2 || meta.Domain != "example.com" {
		t.Errorf("meta = %+v", meta)
	}

	// Duplicate create fails.
	if _, err := s.Create("work", "example.com", 1); err == nil {
		t.Error("duplicate create should fail")
	}

	loaded, err := s.Load("work")
	if err != nil || loaded == nil {
		t.Fatalf("Load: %v, %v", loaded, err)
	}
	if loaded.HasStorage || loaded.HasCookies || loaded.HasFingerprint {
		t.Error("fresh profile should have no state files")
	}

	all, err := s.List()
	if err != nil || len(all) != 1 {
		t.Fatalf("List = %v, %v", all, err)
	}

	if err := s.Delete("work"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if meta, _ := s.Load("work"); meta != nil {
		t.Error("deleted profile should not load")
	}
	if err := s.Delete("work"); err == nil {
		t.Error("deleting a missing profile should fail")
	}
}

func TestLoad_MissingIsNil(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Load("ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta != nil {
		t.Error("missing profile should load as nil")
	}
}

// ---------------------------------------------------------------------------
// State files
// ---------------------------------------------------------------------------

func TestStorageStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("p", "x.com", 1); err != nil {
		t.Fatal(err)
	}

	path, err := s.SaveStorageState("p", []byte(`{"cookies":[]}`))
	if err != nil {
		t.Fatalf("SaveStorageState: %v", err)
	}
	if s.StorageStatePath("p") != path {
		t.Error("StorageStatePath should return the saved file")
	}

	loaded, err := s.Load("p")
	if err != nil || loaded == nil {
		t.Fatal(err)
	}
	if !loaded.HasStorage {
		t.Error("has_storage should reflect the file")
	}
}

func TestTierCache(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveTier("p", 3); err != nil {
		t.Fatalf("SaveTier: %v", err)
	}
	tier, err := s.LoadTier("p")
	if err != nil || tier != 3 {
		t.Errorf("LoadTier = %d, %v, want 3", tier, err)
	}

	// Absent cache reads as zero.
	tier, err = s.LoadTier("other")
	if err != nil || tier != 0 {
		t.Errorf("LoadTier(absent) = %d, %v", tier, err)
	}
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

func TestResolveCredential_Tagged(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveCredentials("p", map[string]string{"password": "s3cret"}); err != nil {
		t.Fatal(err)
	}

	got := s.ResolveCredential("p", "<secret>password</secret>")
	if got != "s3cret" {
		t.Errorf("resolved = %q, want s3cret", got)
	}
}

func TestResolveCredential_TaggedUnknownKeyUnchanged(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveCredentials("p", map[string]string{"password": "s3cret"}); err != nil {
		t.Fatal(err)
	}
	in := "<secret>missing</secret>"
	if got := s.ResolveCredential("p", in); got != in {
		t.Errorf("unknown key should leave value unchanged, got %q", got)
	}
}

func TestResolveCredential_Literal(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveCredentials("p", map[string]string{"username": "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveCredential("p", "username"); got != "alice@example.com" {
		t.Errorf("literal mode resolved = %q", got)
	}
}

func TestResolveCredential_NoCredsPassthrough(t *testing.T) {
	s := newTestStore(t)
	if got := s.ResolveCredential("p", "plain text"); got != "plain text" {
		t.Errorf("passthrough = %q", got)
	}
}

func TestResolveCredential_SecretWithDollarSign(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveCredentials("p", map[string]string{"pw": "a$1b"}); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveCredential("p", "<secret>pw</secret>"); got != "a$1b" {
		t.Errorf("resolved = %q, want literal a$1b", got)
	}
}

// ---------------------------------------------------------------------------
// Domain tier cache
// ---------------------------------------------------------------------------

func TestDomainTiers_RoundTrip(t *testing.T) {
	root := t.TempDir()
	dt, err := NewDomainTiers(root)
	if err != nil {
		t.Fatal(err)
	}

	if got := dt.Get("example.com"); got != 0 {
		t.Errorf("unknown domain tier = %d, want 0", got)
	}
	if err := dt.Set("example.com", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := dt.Get("example.com"); got != 2 {
		t.Errorf("tier = %d, want 2", got)
	}

	// Persisted on disk, visible to a fresh cache instance.
	if _, err := os.Stat(filepath.Join(root, "domain_tiers.json")); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}
	dt2, err := NewDomainTiers(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := dt2.Get("example.com"); got != 2 {
		t.Errorf("fresh instance tier = %d, want 2", got)
	}
}
