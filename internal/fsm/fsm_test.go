package fsm

import (
	"testing"
	"time"

	berrors "github.com/allaspectsdev/browserd/internal/errors"
)

// walkToActing drives a fresh machine through the happy path to ACTING.
func walkToActing(t *testing.T) *Machine {
	t.Helper()
	m := New(nil)
	mustOK(t, m.ToLaunching())
	mustOK(t, m.ToObserving())
	mustOK(t, m.ToPlanning())
	mustOK(t, m.ToActing())
	return m
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestHappyPathLoop(t *testing.T) {
	m := walkToActing(t)
	mustOK(t, m.ToEvaluating())
	mustOK(t, m.ToObserving())
	if m.State().Name != Observing {
		t.Errorf("state = %s, want OBSERVING", m.State().Name)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New(nil)
	err := m.ToActing() // IDLE -> ACTING is not allowed
	if err == nil {
		t.Fatal("expected error for IDLE -> ACTING")
	}
	be, isBE := err.(*berrors.BrowserError)
	if !isBE || be.Code != berrors.CodeInvalidTransition {
		t.Errorf("error = %v, want INVALID_TRANSITION", err)
	}
	if m.State().Name != Idle {
		t.Errorf("failed transition changed state to %s", m.State().Name)
	}
}

func TestForceTransitionsFromAnywhere(t *testing.T) {
	m := walkToActing(t)
	m.ToError()
	if m.State().Name != Error {
		t.Fatalf("state = %s, want ERROR", m.State().Name)
	}

	m2 := New(nil)
	m2.ToTearingDown()
	if m2.State().Name != TearingDown {
		t.Errorf("state = %s, want TEARING_DOWN", m2.State().Name)
	}

	m3 := walkToActing(t)
	m3.ToRecovering()
	if m3.State().Name != Recovering {
		t.Errorf("state = %s, want RECOVERING", m3.State().Name)
	}
	mustOK(t, m3.ToObserving())
}

func TestIdleOnlyFromTerminalStates(t *testing.T) {
	m := walkToActing(t)
	if err := m.ToIdle(); err == nil {
		t.Error("ACTING -> IDLE should be rejected")
	}
	m.ToError()
	if err := m.ToIdle(); err != nil {
		t.Errorf("ERROR -> IDLE should be allowed: %v", err)
	}
}

func TestEscalatingRelaunches(t *testing.T) {
	m := walkToActing(t)
	mustOK(t, m.ToEvaluating())
	mustOK(t, m.ToEscalating())
	mustOK(t, m.ToLaunching())
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

func TestIsTerminalAndActive(t *testing.T) {
	m := New(nil)
	if m.IsTerminal() || m.IsActive() {
		t.Error("IDLE is neither terminal nor active")
	}
	mustOK(t, m.ToLaunching())
	if !m.IsActive() {
		t.Error("LAUNCHING should be active")
	}
	m.ToError()
	if !m.IsTerminal() {
		t.Error("ERROR should be terminal")
	}
}

func TestCanAbort(t *testing.T) {
	for _, s := range []State{Observing, Planning, Acting, Evaluating, Escalating, Recovering} {
		if !CanAbort(s) {
			t.Errorf("%s should be abortable", s)
		}
	}
	for _, s := range []State{Idle, Launching, Done, Error, TearingDown} {
		if CanAbort(s) {
			t.Errorf("%s should not be abortable", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Deadlines
// ---------------------------------------------------------------------------

func TestDeadlineExceeded(t *testing.T) {
	m := New(map[string]int{"LAUNCHING": 1})
	mustOK(t, m.ToLaunching())
	time.Sleep(5 * time.Millisecond)
	if !m.IsDeadlineExceeded() {
		t.Error("1ms deadline should have expired")
	}
}

func TestNoDeadlineNeverExpires(t *testing.T) {
	m := New(map[string]int{"LAUNCHING": 1})
	// IDLE has no configured deadline.
	if m.IsDeadlineExceeded() {
		t.Error("state without deadline should never expire")
	}
}

// ---------------------------------------------------------------------------
// Epochs and listeners
// ---------------------------------------------------------------------------

func TestBumpEpochPreservesState(t *testing.T) {
	m := walkToActing(t)
	before := m.State()
	epoch := m.BumpEpoch()
	after := m.State()

	if epoch != 1 || after.Epoch != 1 {
		t.Errorf("epoch = %d, want 1", epoch)
	}
	if after.Name != before.Name {
		t.Errorf("bump changed state from %s to %s", before.Name, after.Name)
	}
}

func TestEpochCarriesThroughTransitions(t *testing.T) {
	m := New(nil)
	m.BumpEpoch()
	mustOK(t, m.ToLaunching())
	if m.Epoch() != 1 {
		t.Errorf("epoch = %d after transition, want 1", m.Epoch())
	}
}

func TestListenerReceivesChange(t *testing.T) {
	m := New(nil)
	var got []State
	m.Subscribe(func(cur, prev Snapshot) {
		got = append(got, cur.Name)
	})
	mustOK(t, m.ToLaunching())
	if len(got) != 1 || got[0] != Launching {
		t.Errorf("listener saw %v, want [LAUNCHING]", got)
	}
}

func TestListenerPanicIsSwallowed(t *testing.T) {
	m := New(nil)
	m.Subscribe(func(cur, prev Snapshot) {
		panic("listener bug")
	})
	mustOK(t, m.ToLaunching())
	if m.State().Name != Launching {
		t.Error("listener panic must not corrupt the machine")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(nil)
	calls := 0
	unsub := m.Subscribe(func(cur, prev Snapshot) { calls++ })
	mustOK(t, m.ToLaunching())
	unsub()
	mustOK(t, m.ToObserving())
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
