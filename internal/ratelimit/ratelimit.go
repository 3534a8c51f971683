// Package ratelimit enforces per-domain action quotas over a sliding
// 60-second window. Read-only verbs are exempt; successful actions are
// recorded after they complete so a failed action does not consume quota.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// window is the sliding-window duration.
const window = 60 * time.Second

// defaultLimit applies when no pattern matches and no "default" key is set.
const defaultLimit = 8

// ExemptVerbs are read-only actions that never count toward quotas.
var ExemptVerbs = map[string]bool{
	"snapshot":    true,
	"screenshot":  true,
	"wait":        true,
	"done":        true,
	"cookies_get": true,
	"tab_switch":  true,
}

// Limiter is a per-domain sliding-window rate limiter. Limits are matched
// by substring against the policy table; the most specific (longest)
// matching pattern wins, and the "default" key supplies the fallback.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]int
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a Limiter with the given policy table. The table maps
// domain-substring patterns to max actions per minute; the "default" key
// is the fallback limit.
func New(limits map[string]int) *Limiter {
	if limits == nil {
		limits = map[string]int{}
	}
	return &Limiter{
		limits:  limits,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SetLimits replaces the policy table (used on config hot-reload).
func (l *Limiter) SetLimits(limits map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
}

// limitFor returns the quota for a domain. Must be called with mu held.
func (l *Limiter) limitFor(domain string) int {
	best := ""
	for pattern := range l.limits {
		if pattern == "default" {
			continue
		}
		if containsPattern(domain, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return l.limits[best]
	}
	if d, ok := l.limits["default"]; ok {
		return d
	}
	return defaultLimit
}

// prune drops timestamps older than the window. Must be called with mu held.
func (l *Limiter) prune(domain string, now time.Time) []time.Time {
	w := l.windows[domain]
	cutoff := now.Add(-window)
	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w = append([]time.Time(nil), w[i:]...)
		l.windows[domain] = w
	}
	return w
}

// Check reports whether an action on domain is currently allowed.
// It does not consume quota.
func (l *Limiter) Check(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.prune(domain, l.now())
	return len(w) < l.limitFor(domain)
}

// Record commits one action against the domain's window.
func (l *Limiter) Record(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(domain, now)
	l.windows[domain] = append(l.windows[domain], now)
}

// WaitTime returns the seconds until the next action is allowed, or 0 if
// one is allowed now.
func (l *Limiter) WaitTime(domain string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.prune(domain, now)
	if len(w) < l.limitFor(domain) {
		return 0
	}
	// The oldest entry expires at oldest + window.
	wait := w[0].Add(window).Sub(now).Seconds()
	if wait < 0 {
		return 0
	}
	return wait
}

// containsPattern reports whether domain contains pattern as a substring.
func containsPattern(domain, pattern string) bool {
	return pattern != "" && strings.Contains(domain, pattern)
}
