// Package testutil holds shared helpers for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/browserd/internal/config"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/store"
)

// NewTestStore creates a temp-backed SQLite store for testing.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns a minimal valid config for testing.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Profiles.Dir = t.TempDir()
	return cfg
}

// NewTestProfiles creates a temp-rooted profile store.
func NewTestProfiles(t *testing.T) *profile.Store {
	t.Helper()
	s, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create profile store: %v", err)
	}
	return s
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
