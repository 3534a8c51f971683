package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/compaction"
	"github.com/allaspectsdev/browserd/internal/fsm"
	"github.com/allaspectsdev/browserd/internal/loopdetect"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/snapshot"
	"github.com/allaspectsdev/browserd/internal/store"
)

// Options configure the Registry at daemon start.
type Options struct {
	MaxSessions       int
	IdleTTL           time.Duration
	NavigationTimeout time.Duration
	Humanize          bool
	HumanizeIntensity float64
	LoopWindow        int
	LoopThreshold     int
	FSMDeadlines      map[string]int
	DownloadRoot      string
}

// Registry is the keyed map of live sessions. Inserts at launch and
// removals at close are the only map mutations; per-session state is
// guarded by each session's own mutex.
type Registry struct {
	opts     Options
	tiers    *browser.Registry
	profiles *profile.Store
	st       *store.Store // optional; nil disables persistence
	snap     *snapshot.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry.
func NewRegistry(opts Options, tiers *browser.Registry, profiles *profile.Store, st *store.Store, snap *snapshot.Engine) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = time.Hour
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Registry{
		opts:     opts,
		tiers:    tiers,
		profiles: profiles,
		st:       st,
		snap:     snap,
		sessions: make(map[string]*Session),
	}
}

// Snapshotter returns the snapshot engine shared by this registry.
func (r *Registry) Snapshotter() *snapshot.Engine { return r.snap }

// Profiles returns the profile store.
func (r *Registry) Profiles() *profile.Store { return r.profiles }

// LaunchParams are the launch request inputs.
type LaunchParams struct {
	Tier     int
	Profile  string
	Viewport *browser.Size
	URL      string

	// Optional per-launch humanization overrides.
	Humanize          *bool
	HumanizeIntensity *float64
}

// LaunchResult is the launch response payload.
type LaunchResult struct {
	ID      string `json:"session_id"`
	Tier    int    `json:"tier"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Launch creates a tier-specific browser session, registers dialog and
// download handlers, seeds the in-memory record, and persists minimal
// metadata for cross-process visibility. A navigation failure on the
// optional url is returned as a warning on an otherwise successful
// launch.
func (r *Registry) Launch(ctx context.Context, p LaunchParams) (*LaunchResult, error) {
	if p.Tier == 0 {
		p.Tier = 1
	}
	tier, ok := r.tiers.Get(p.Tier)
	if !ok {
		return nil, fmt.Errorf("unknown tier: %d", p.Tier)
	}

	// Resolve profile path with traversal protection.
	profilePath := ""
	if p.Profile != "" {
		dir, err := r.profiles.Dir(p.Profile)
		if err != nil {
			return nil, err
		}
		profilePath = dir
	}

	r.mu.Lock()
	count := len(r.sessions)
	r.mu.Unlock()
	if count >= r.opts.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d); close an existing session first", r.opts.MaxSessions)
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	res, err := tier.Init(ctx, browser.InitOptions{
		ProfilePath: profilePath,
		Viewport:    p.Viewport,
	})
	if err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}

	page, err := res.Context.NewPage()
	if err != nil {
		_ = tier.Teardown(res)
		return nil, fmt.Errorf("opening initial page: %w", err)
	}

	humanize := r.opts.Humanize
	if p.Humanize != nil {
		humanize = *p.Humanize
	}
	intensity := r.opts.HumanizeIntensity
	if p.HumanizeIntensity != nil {
		intensity = *p.HumanizeIntensity
	}
	if intensity == 0 {
		intensity = 1.0
	}

	s := &Session{
		ID:                id,
		Tier:              p.Tier,
		TierImpl:          tier,
		Profile:           p.Profile,
		Resources:         res,
		Page:              page,
		CreatedAt:         time.Now(),
		Humanize:          humanize,
		HumanizeIntensity: intensity,
		RefMap:            snapshot.RefMap{},
		Tools:             map[string]Tool{},
		DownloadDir:       filepath.Join(r.opts.DownloadRoot, id),
		Loop:              loopdetect.New(r.opts.LoopWindow, r.opts.LoopThreshold),
		FSM:               fsm.New(r.opts.FSMDeadlines),
		Compaction:        compaction.NewState(compaction.DefaultSettings()),
	}
	s.Touch()
	r.RegisterPageHandlers(s, page)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if r.st != nil {
		if err := r.st.SaveSession(store.SessionMeta{
			ID:        id,
			Tier:      p.Tier,
			Profile:   p.Profile,
			PID:       os.Getpid(),
			CreatedAt: s.CreatedAt,
		}); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("persisting session metadata failed")
		}
	}

	result := &LaunchResult{ID: id, Tier: p.Tier}

	if p.URL != "" {
		navCtx, cancel := context.WithTimeout(ctx, r.opts.NavigationTimeout+5*time.Second)
		err := page.Goto(navCtx, p.URL, r.opts.NavigationTimeout)
		cancel()
		result.URL = page.URL()
		if title, terr := page.Title(); terr == nil {
			result.Title = title
		}
		if err != nil {
			result.Warning = fmt.Sprintf("Navigation issue: %v", err)
		}
	}

	log.Info().Str("session_id", id).Int("tier", p.Tier).Str("profile", p.Profile).Msg("session launched")
	return result, nil
}

// RegisterPageHandlers wires the dialog auto-dismiss and download
// capture callbacks onto a page. Called for the initial page and every
// page opened later.
func (r *Registry) RegisterPageHandlers(s *Session, page browser.Page) {
	page.OnDialog(func(d browser.Dialog) {
		action := "dismissed"
		// beforeunload must be accepted or the page can never navigate
		// away.
		if d.Type() == "beforeunload" {
			action = "accepted"
			if err := d.Accept(); err != nil {
				return
			}
		} else if err := d.Dismiss(); err != nil {
			return
		}
		s.RecordDismissedDialog(snapshot.DismissedDialog{
			Type:    d.Type(),
			Message: d.Message(),
			Action:  action,
		})
		log.Debug().Str("session_id", s.ID).Str("type", d.Type()).Msg("dialog auto-handled")
	})

	page.OnDownload(func(d browser.Download) {
		if err := os.MkdirAll(s.DownloadDir, 0o700); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("creating download dir failed")
			return
		}
		name := d.SuggestedFilename()
		if name == "" {
			name = "download"
		}
		path := filepath.Join(s.DownloadDir, uuid.NewString()[:8]+"-"+name)
		if err := d.SaveAs(path); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("saving download failed")
			return
		}
		size := int64(0)
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		s.RecordDownload(snapshot.DownloadInfo{Filename: name, Path: path, Size: size})
		log.Info().Str("session_id", s.ID).Str("file", name).Int64("bytes", size).Msg("download captured")
	})
}

// Get returns a session, or nil when absent or closing.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s == nil || s.Closing() {
		return nil
	}
	return s
}

// List returns summaries of all live sessions.
func (r *Registry) List() []map[string]any {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	out := make([]map[string]any, 0, len(all))
	for _, s := range all {
		out = append(out, map[string]any{
			"session_id": s.ID,
			"tier":       s.Tier,
			"profile":    s.Profile,
			"url":        s.Page.URL(),
		})
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Info returns the detailed status payload for one session, or nil.
func (r *Registry) Info(id string) map[string]any {
	s := r.Get(id)
	if s == nil {
		return nil
	}
	title, _ := s.Page.Title()
	state := s.FSM.State()
	return map[string]any{
		"session_id":         s.ID,
		"tier":               s.Tier,
		"profile":            s.Profile,
		"url":                s.Page.URL(),
		"title":              title,
		"tab_count":          len(s.Resources.Context.Pages()),
		"action_count":       s.ActionCount,
		"duration_seconds":   int(time.Since(s.CreatedAt).Seconds()),
		"humanize":           s.Humanize,
		"humanize_intensity": s.HumanizeIntensity,
		"fsm_state":          string(state.Name),
		"epoch":              state.Epoch,
	}
}

// SwitchPage makes the tab at index (0-based) active. Returns the page
// or nil when the session or index is invalid.
func (r *Registry) SwitchPage(id string, index int) browser.Page {
	s := r.Get(id)
	if s == nil {
		return nil
	}
	pages := s.Resources.Context.Pages()
	if index < 0 || index >= len(pages) {
		return nil
	}
	s.Page = pages[index]
	_ = pages[index].BringToFront()
	return s.Page
}

// NewPage opens a new tab, optionally navigating it, and makes it
// active.
func (r *Registry) NewPage(ctx context.Context, id, url string) (browser.Page, error) {
	s := r.Get(id)
	if s == nil {
		return nil, fmt.Errorf("session %s not found or expired", id)
	}
	page, err := s.Resources.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	r.RegisterPageHandlers(s, page)
	s.Page = page
	if url != "" {
		if err := page.Goto(ctx, url, r.opts.NavigationTimeout); err != nil {
			return page, err
		}
	}
	return page, nil
}

// ClosePage closes the tab at index. Closing the last tab opens a blank
// page so the session always has an active page.
func (r *Registry) ClosePage(id string, index int) bool {
	s := r.Get(id)
	if s == nil {
		return false
	}
	pages := s.Resources.Context.Pages()
	if index < 0 || index >= len(pages) {
		return false
	}
	if err := pages[index].Close(); err != nil {
		return false
	}
	remaining := s.Resources.Context.Pages()
	if len(remaining) > 0 {
		s.Page = remaining[len(remaining)-1]
	} else {
		blank, err := s.Resources.Context.NewPage()
		if err != nil {
			return false
		}
		r.RegisterPageHandlers(s, blank)
		s.Page = blank
	}
	return true
}

// SaveState writes the context's storage state (cookies + localStorage)
// under the resolved profile directory. Defaults to the session's
// profile, then the session id.
func (r *Registry) SaveState(id, profileName string) (string, string, error) {
	s := r.Get(id)
	if s == nil {
		return "", "", fmt.Errorf("session %s not found or expired", id)
	}
	s.Lock()
	defer s.Unlock()
	s.Touch()
	name := profileName
	if name == "" {
		name = s.Profile
	}
	if name == "" {
		name = s.ID
	}
	state, err := s.Resources.Context.StorageState()
	if err != nil {
		return "", "", fmt.Errorf("reading storage state: %w", err)
	}
	path, err := r.profiles.SaveStorageState(name, state)
	if err != nil {
		return "", "", err
	}
	return name, path, nil
}

// Close tears down a session. The closing flag blocks new operations
// first; resources are released before the registry entry goes away so
// a teardown failure cannot orphan browser processes. On failure the
// session stays registered with closing reset, ready for a retry or the
// next GC pass.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("session %s not found", id)
	}

	if !s.closing.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s is already closing", id)
	}

	// Serialize with in-flight operations.
	s.Lock()
	err := s.TierImpl.Teardown(s.Resources)
	s.Unlock()

	if err != nil {
		s.closing.Store(false)
		return fmt.Errorf("teardown failed: %w", err)
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	// Session-scoped state: diff cache, download dir, persisted row.
	r.snap.Forget(id)
	if s.DownloadDir != "" {
		_ = os.RemoveAll(s.DownloadDir)
	}
	if r.st != nil {
		if err := r.st.DeleteSession(id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("deleting session metadata failed")
		}
	}

	log.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// CloseAll closes every session, logging failures.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		id := s["session_id"].(string)
		if err := r.Close(id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("closing session failed")
		}
	}
}

// SweepIdle closes every non-closing session idle past the TTL and
// returns the reaped ids.
func (r *Registry) SweepIdle() []string {
	r.mu.Lock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	var reaped []string
	for _, s := range candidates {
		if s.Closing() || s.IdleFor() <= r.opts.IdleTTL {
			continue
		}
		if err := r.Close(s.ID); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("idle sweep close failed")
			continue
		}
		reaped = append(reaped, s.ID)
	}
	return reaped
}
