// Package compaction meters how much text a session has pushed to its
// consumer and signals when the agent should compact its history. The
// gate needs BOTH a step cadence and a character threshold, so short
// bursts and long quiet sessions alike avoid pointless compaction.
// Token counts for large payloads come from tiktoken so agents can
// budget context precisely instead of guessing from chars.
package compaction

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Settings controls when and how history is compacted.
type Settings struct {
	StepCadence     int // compact every N steps (if char threshold also met)
	CharThreshold   int // minimum total chars before compaction kicks in
	KeepLast        int // recent steps never compacted
	SummaryMaxChars int // cap for the produced summary
}

// DefaultSettings mirror the service defaults.
func DefaultSettings() Settings {
	return Settings{
		StepCadence:     15,
		CharThreshold:   40_000,
		KeepLast:        5,
		SummaryMaxChars: 2_000,
	}
}

// normalize clamps pathological values the way a careless caller might
// produce them.
func (s Settings) normalize() Settings {
	if s.StepCadence < 3 {
		s.StepCadence = 3
	}
	if s.CharThreshold < 5_000 {
		s.CharThreshold = 5_000
	}
	if s.KeepLast < 1 {
		s.KeepLast = 1
	}
	if s.KeepLast >= s.StepCadence {
		s.KeepLast = s.StepCadence - 2
		if s.KeepLast < 1 {
			s.KeepLast = 1
		}
	}
	if s.SummaryMaxChars < 200 {
		s.SummaryMaxChars = 200
	}
	return s
}

// State tracks compaction progress across one session.
type State struct {
	mu              sync.Mutex
	settings        Settings
	stepCount       int
	totalChars      int
	compactionCount int
}

// NewState creates a State with normalized settings.
func NewState(settings Settings) *State {
	return &State{settings: settings.normalize()}
}

// RecordStep registers one agent step and the size of its observation.
func (s *State) RecordStep(chars int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepCount++
	s.totalChars += chars
}

// ShouldCompact reports whether both compaction gates are met.
func (s *State) ShouldCompact() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepCount >= s.settings.StepCadence && s.totalChars >= s.settings.CharThreshold
}

// Hint returns the advisory attached to responses when compaction is
// due, or empty.
func (s *State) Hint() string {
	if !s.ShouldCompact() {
		return ""
	}
	return "Session history is large. Summarize earlier steps and keep only recent observations."
}

// MarkCompacted resets the gates after the caller performed compaction,
// keeping the char weight of the preserved tail.
func (s *State) MarkCompacted(keptChars int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactionCount++
	s.stepCount = 0
	s.totalChars = keptChars
}

// Compactions returns how many times the session has compacted.
func (s *State) Compactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactionCount
}

// ---------------------------------------------------------------------------
// Token counting
// ---------------------------------------------------------------------------

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts text in cl100k_base tokens. Returns 0 when the
// encoding is unavailable (offline first run); callers treat 0 as
// "unknown".
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return 0
	}
	return len(encoding.Encode(text, nil, nil))
}
