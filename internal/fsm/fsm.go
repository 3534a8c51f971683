// Package fsm implements the agent state machine: eleven states with
// typed transitions, per-state deadlines, and epoch tracking. The epoch
// increments on abort, tier escalation, or recovery so that stale
// in-flight work can be discarded without destroying the session.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/allaspectsdev/browserd/internal/errors"
)

// State names the agent loop states.
type State string

const (
	Idle        State = "IDLE"
	Launching   State = "LAUNCHING"
	Observing   State = "OBSERVING"
	Planning    State = "PLANNING"
	Acting      State = "ACTING"
	Evaluating  State = "EVALUATING"
	Escalating  State = "ESCALATING"
	Recovering  State = "RECOVERING"
	Done        State = "DONE"
	Error       State = "ERROR"
	TearingDown State = "TEARING_DOWN"
)

// validTransitions lists the allowed targets for each state. ERROR,
// RECOVERING, and TEARING_DOWN are additionally reachable from any state
// via force transitions.
var validTransitions = map[State][]State{
	Idle:        {Launching},
	Launching:   {Observing, Error},
	Observing:   {Planning, Error},
	Planning:    {Acting, Done, Error},
	Acting:      {Evaluating, Error},
	Evaluating:  {Observing, Escalating, Done, Error},
	Escalating:  {Launching, Error},
	Recovering:  {Observing, Escalating, Error},
	Done:        {TearingDown, Idle},
	Error:       {Recovering, TearingDown, Idle},
	TearingDown: {Idle},
}

// abortable lists states whose in-progress work may be cancelled.
var abortable = map[State]bool{
	Observing:  true,
	Planning:   true,
	Acting:     true,
	Evaluating: true,
	Escalating: true,
	Recovering: true,
}

// IsValidTransition reports whether from → to is an allowed transition.
func IsValidTransition(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CanAbort reports whether in-flight work in the given state may be cancelled.
func CanAbort(s State) bool {
	return abortable[s]
}

// Snapshot is a copy of the machine state for status reporting.
type Snapshot struct {
	Name       State `json:"name"`
	SinceMS    int64 `json:"since_ms"`
	DeadlineMS int64 `json:"deadline_ms,omitempty"` // 0 = no deadline
	Epoch      int   `json:"epoch"`
}

// Listener receives (new, previous) state snapshots after each change.
// Listener panics are swallowed so they cannot corrupt the machine.
type Listener func(cur, prev Snapshot)

// Machine is the agent state machine. All methods are safe for
// concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     Snapshot
	deadlines map[State]int64 // ms per state; zero/absent = none
	listeners []Listener
}

// New creates a Machine in IDLE with the given per-state deadlines
// (milliseconds, keyed by state name; nil for no deadlines).
func New(deadlines map[string]int) *Machine {
	d := make(map[State]int64, len(deadlines))
	for name, ms := range deadlines {
		d[State(name)] = int64(ms)
	}
	return &Machine{
		state:     Snapshot{Name: Idle, SinceMS: nowMS()},
		deadlines: d,
	}
}

// State returns a copy of the current state.
func (m *Machine) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the current epoch.
func (m *Machine) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Epoch
}

// Subscribe registers a listener and returns an unsubscribe function.
func (m *Machine) Subscribe(l Listener) func() {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	idx := len(m.listeners) - 1
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

// IsTerminal reports whether the machine is in DONE or ERROR.
func (m *Machine) IsTerminal() bool {
	s := m.State().Name
	return s == Done || s == Error
}

// IsActive reports whether the machine is mid-task.
func (m *Machine) IsActive() bool {
	switch m.State().Name {
	case Idle, Done, Error, TearingDown:
		return false
	}
	return true
}

// ElapsedMS returns milliseconds spent in the current state.
func (m *Machine) ElapsedMS() int64 {
	return nowMS() - m.State().SinceMS
}

// IsDeadlineExceeded reports whether the current state has outlived its
// configured deadline. States without a deadline never expire.
func (m *Machine) IsDeadlineExceeded() bool {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()
	if s.DeadlineMS == 0 {
		return false
	}
	return nowMS()-s.SinceMS > s.DeadlineMS
}

// Validated transitions.

func (m *Machine) ToLaunching() error  { return m.transition(Launching) }
func (m *Machine) ToObserving() error  { return m.transition(Observing) }
func (m *Machine) ToPlanning() error   { return m.transition(Planning) }
func (m *Machine) ToActing() error     { return m.transition(Acting) }
func (m *Machine) ToEvaluating() error { return m.transition(Evaluating) }
func (m *Machine) ToEscalating() error { return m.transition(Escalating) }
func (m *Machine) ToDone() error       { return m.transition(Done) }

// ToIdle resets to IDLE. Only valid from DONE, ERROR, or TEARING_DOWN.
func (m *Machine) ToIdle() error { return m.transition(Idle) }

// Force transitions (valid from any state).

// ToError forces the machine into ERROR.
func (m *Machine) ToError() { m.forceTransition(Error) }

// ToRecovering forces the machine into RECOVERING.
func (m *Machine) ToRecovering() { m.forceTransition(Recovering) }

// ToTearingDown forces the machine into TEARING_DOWN.
func (m *Machine) ToTearingDown() { m.forceTransition(TearingDown) }

// BumpEpoch increments the epoch without changing state. Any in-flight
// work holding a stale epoch must discard its result. Returns the new
// epoch.
func (m *Machine) BumpEpoch() int {
	m.mu.Lock()
	prev := m.state
	m.state.Epoch++
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
	return cur.Epoch
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	prev := m.state
	if !IsValidTransition(prev.Name, to) {
		m.mu.Unlock()
		return errors.New(errors.CodeInvalidTransition,
			fmt.Sprintf("invalid transition: %s -> %s", prev.Name, to))
	}
	epoch := prev.Epoch
	if to == Escalating {
		epoch++
	}
	m.setState(to, epoch)
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
	return nil
}

func (m *Machine) forceTransition(to State) {
	m.mu.Lock()
	prev := m.state
	epoch := prev.Epoch
	if to == Recovering {
		epoch++
	}
	m.setState(to, epoch)
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
}

// setState must be called with the mutex held.
func (m *Machine) setState(name State, epoch int) {
	m.state = Snapshot{
		Name:       name,
		SinceMS:    nowMS(),
		DeadlineMS: m.deadlines[name],
		Epoch:      epoch,
	}
}

// snapshotListeners must be called with the mutex held.
func (m *Machine) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func notify(listeners []Listener, cur, prev Snapshot) {
	for _, l := range listeners {
		func() {
			// Listener errors must not break the machine.
			defer func() { _ = recover() }()
			l(cur, prev)
		}()
	}
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
