// Package session owns the registry of live browser sessions: creation
// through the tier registry, per-session serialization, idle sweeping,
// and safe teardown. All cross-component state hangs off the session
// record keyed by id, never off package globals.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/compaction"
	"github.com/allaspectsdev/browserd/internal/fsm"
	"github.com/allaspectsdev/browserd/internal/loopdetect"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

// Tool is a page-advertised WebMCP tool discovered for this session.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema,omitempty"`
	Type        string `json:"type,omitempty"` // "imperative" or "declarative"
}

// Session is one live browser session. Mutations happen while the
// session mutex is held (Lock/Unlock), except the closing flag and
// last-activity timestamp which are atomic.
type Session struct {
	ID       string
	Tier     int
	TierImpl browser.Tier
	Profile  string

	Resources *browser.Resources

	// Page is the active tab. Swapped under the session mutex.
	Page browser.Page

	CreatedAt time.Time

	// Humanization parameters seeded at launch.
	Humanize          bool
	HumanizeIntensity float64

	// RefMap is the authoritative ref map from the most recent snapshot.
	RefMap snapshot.RefMap

	// Downloads and DismissedDialogs are appended by page handlers and
	// surfaced in snapshot headers.
	Downloads        []snapshot.DownloadInfo
	DismissedDialogs []snapshot.DismissedDialog

	// Tools discovered by webmcp_discover.
	Tools map[string]Tool

	// DownloadDir is the session-scoped directory for captured files,
	// removed at close.
	DownloadDir string

	Loop       *loopdetect.Detector
	FSM        *fsm.Machine
	Compaction *compaction.State

	ActionCount int

	mu           sync.Mutex
	closing      atomic.Bool
	lastActivity atomic.Int64 // unix nanos

	// eventMu guards the handler-appended slices, which mutate outside
	// the session mutex (runtime event callbacks).
	eventMu sync.Mutex
}

// Lock acquires the session mutex, serializing operations.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// Closing reports whether teardown has begun. After it returns true no
// new operation may start; in-flight operations run to completion.
func (s *Session) Closing() bool { return s.closing.Load() }

// Touch updates the last-activity timestamp.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// RecordDownload appends a captured file. Safe to call from runtime
// event callbacks.
func (s *Session) RecordDownload(d snapshot.DownloadInfo) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.Downloads = append(s.Downloads, d)
}

// RecordDismissedDialog appends an auto-handled dialog. Safe to call
// from runtime event callbacks.
func (s *Session) RecordDismissedDialog(d snapshot.DismissedDialog) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.DismissedDialogs = append(s.DismissedDialogs, d)
}

// SnapshotDownloads returns a copy of the download list.
func (s *Session) SnapshotDownloads() []snapshot.DownloadInfo {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	out := make([]snapshot.DownloadInfo, len(s.Downloads))
	copy(out, s.Downloads)
	return out
}

// SnapshotDismissedDialogs returns a copy of the dismissed-dialog list.
func (s *Session) SnapshotDismissedDialogs() []snapshot.DismissedDialog {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	out := make([]snapshot.DismissedDialog, len(s.DismissedDialogs))
	copy(out, s.DismissedDialogs)
	return out
}

// newSessionID returns 12 random hex chars.
func newSessionID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generating id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
