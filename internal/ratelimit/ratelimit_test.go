package ratelimit

import (
	"testing"
	"time"
)

// fixedClock lets tests control the limiter's view of time.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(limits map[string]int) (*Limiter, *fixedClock) {
	l := New(limits)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	l.now = func() time.Time { return clock.now }
	return l, clock
}

// ---------------------------------------------------------------------------
// Quota enforcement
// ---------------------------------------------------------------------------

func TestCheck_AllowsUpToQuota(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"default": 3})

	for i := 0; i < 3; i++ {
		if !l.Check("example.com") {
			t.Fatalf("action %d should be allowed", i+1)
		}
		l.Record("example.com")
	}
	if l.Check("example.com") {
		t.Error("4th action within the window should be blocked")
	}
}

func TestCheck_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(map[string]int{"default": 2})

	l.Record("example.com")
	l.Record("example.com")
	if l.Check("example.com") {
		t.Fatal("should be blocked at quota")
	}

	clock.advance(61 * time.Second)
	if !l.Check("example.com") {
		t.Error("entries older than 60s should have expired")
	}
}

func TestCheck_DomainsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"default": 1})

	l.Record("a.com")
	if l.Check("a.com") {
		t.Error("a.com should be blocked")
	}
	if !l.Check("b.com") {
		t.Error("b.com has its own window")
	}
}

// ---------------------------------------------------------------------------
// Policy table matching
// ---------------------------------------------------------------------------

func TestLimitFor_SubstringMatch(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{
		"default":      8,
		"linkedin.com": 4,
	})

	l.mu.Lock()
	got := l.limitFor("www.linkedin.com")
	l.mu.Unlock()
	if got != 4 {
		t.Errorf("www.linkedin.com limit = %d, want 4", got)
	}
}

func TestLimitFor_MostSpecificPatternWins(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{
		"default":          8,
		"example.com":      6,
		"shop.example.com": 2,
	})

	l.mu.Lock()
	got := l.limitFor("shop.example.com")
	l.mu.Unlock()
	if got != 2 {
		t.Errorf("longest matching pattern should win, got limit %d", got)
	}
}

func TestLimitFor_DefaultFallback(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"default": 5})

	l.mu.Lock()
	got := l.limitFor("unknown.net")
	l.mu.Unlock()
	if got != 5 {
		t.Errorf("unmatched domain should use default, got %d", got)
	}
}

func TestLimitFor_NoTableUsesBuiltin(t *testing.T) {
	l, _ := newTestLimiter(nil)

	l.mu.Lock()
	got := l.limitFor("x.com")
	l.mu.Unlock()
	if got != defaultLimit {
		t.Errorf("empty table should use built-in default %d, got %d", defaultLimit, got)
	}
}

// ---------------------------------------------------------------------------
// Wait time
// ---------------------------------------------------------------------------

func TestWaitTime_ZeroWhenAllowed(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"default": 2})
	if got := l.WaitTime("example.com"); got != 0 {
		t.Errorf("WaitTime = %v, want 0", got)
	}
}

func TestWaitTime_UntilOldestExpires(t *testing.T) {
	l, clock := newTestLimiter(map[string]int{"default": 1})

	l.Record("example.com")
	clock.advance(20 * time.Second)

	got := l.WaitTime("example.com")
	if got < 39.9 || got > 40.1 {
		t.Errorf("WaitTime = %v, want ~40s", got)
	}
}

// ---------------------------------------------------------------------------
// Exempt verbs
// ---------------------------------------------------------------------------

func TestExemptVerbs(t *testing.T) {
	for _, verb := range []string{"snapshot", "screenshot", "wait", "done", "cookies_get", "tab_switch"} {
		if !ExemptVerbs[verb] {
			t.Errorf("%s should be exempt", verb)
		}
	}
	for _, verb := range []string{"click", "navigate", "fill", "type"} {
		if ExemptVerbs[verb] {
			t.Errorf("%s should not be exempt", verb)
		}
	}
}

// ---------------------------------------------------------------------------
// Hot reload
// ---------------------------------------------------------------------------

func TestSetLimits_Replaces(t *testing.T) {
	l, _ := newTestLimiter(map[string]int{"default": 1})
	l.Record("example.com")
	if l.Check("example.com") {
		t.Fatal("should be blocked under the old table")
	}

	l.SetLimits(map[string]int{"default": 10})
	if !l.Check("example.com") {
		t.Error("raised quota should unblock the domain")
	}
}
