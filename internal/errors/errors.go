// Package errors provides the structured error taxonomy surfaced to agents.
//
// Every error crossing the action boundary carries a stable code, a
// three-level recoverability, and actionable guidance:
//   - Recoverable: retry the same action
//   - Escalatable: change stealth tier or strategy
//   - NonRecoverable: abort the task
package errors

import (
	"time"
)

// Recoverability classifies how an agent should respond to an error.
type Recoverability string

const (
	Recoverable    Recoverability = "recoverable"
	Escalatable    Recoverability = "escalatable"
	NonRecoverable Recoverability = "non_recoverable"
)

// BrowserError is a structured error with recoverability and guidance.
type BrowserError struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Recoverability Recoverability `json:"recoverability"`
	AgentAction    string         `json:"agent_action,omitempty"`
	UserAction     string         `json:"user_action,omitempty"`
	AtState        string         `json:"at_state,omitempty"`
	TimestampMS    int64          `json:"timestamp_ms"`
	Cause          error          `json:"-"`
}

// Error implements the error interface.
func (e *BrowserError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *BrowserError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether the agent may retry the same action.
func (e *BrowserError) IsRecoverable() bool {
	return e.Recoverability == Recoverable
}

// IsEscalatable reports whether the agent should change tier or strategy.
func (e *BrowserError) IsEscalatable() bool {
	return e.Recoverability == Escalatable
}

// AgentMessage formats the error for agent consumption, appending the
// suggested next step when one is catalogued.
func (e *BrowserError) AgentMessage() string {
	if e.AgentAction == "" {
		return e.Message
	}
	return e.Message + " Suggested: " + e.AgentAction
}

// catalogEntry holds the default recoverability and guidance for a code.
type catalogEntry struct {
	recoverability Recoverability
	agentAction    string
	userAction     string
}

// catalog maps stable error codes to their defaults.
var catalog = map[string]catalogEntry{
	CodeTimeoutAction: {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot to verify element exists, then retry.",
		userAction:     "Page may be slow — the agent will retry.",
	},
	CodeTimeoutNavigation: {
		recoverability: Recoverable,
		agentAction:    "Check URL, wait for load, retry navigation.",
		userAction:     "Site may be slow to respond.",
	},
	CodeElementNotVisible: {
		recoverability: Recoverable,
		agentAction:    "Scroll element into view or dismiss overlays, then retry.",
	},
	CodeElementDetached: {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot — page content changed.",
	},
	CodeElementNotFound: {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot. Ref may be stale.",
	},
	CodeRefNotFound: {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot. Ref may be stale.",
	},
	CodeFrameDetached: {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot — iframe navigated away.",
	},
	CodeContextDestroyed: {
		recoverability: Recoverable,
		agentAction:    "Page navigated during action. Snapshot the new page.",
	},
	CodeTargetClosed: {
		recoverability: Escalatable,
		agentAction:    "Tab/context closed. Relaunch session or switch tab.",
		userAction:     "Browser tab was closed unexpectedly.",
	},
	CodeNetworkError: {
		recoverability: Escalatable,
		agentAction:    "Check URL. If blocked, escalate stealth tier.",
		userAction:     "Site may be blocking access.",
	},
	CodeChallengeDetected: {
		recoverability: Escalatable,
		agentAction:    "Escalate to higher stealth tier.",
		userAction:     "Site has anti-bot protection — escalating stealth.",
	},
	CodeCaptchaDetected: {
		recoverability: Escalatable,
		agentAction:    "CAPTCHA detected. Escalate tier or wait and retry.",
		userAction:     "Site is showing a CAPTCHA challenge.",
	},
	CodeRateLimited: {
		recoverability: Recoverable,
		agentAction:    "Wait before retrying. Reduce action frequency on this domain.",
		userAction:     "Pausing to avoid rate limiting on this site.",
	},
	CodeBrowserCrashed: {
		recoverability: NonRecoverable,
		agentAction:    "Relaunch browser session from scratch.",
		userAction:     "Browser process crashed. Restarting.",
	},
	CodeSessionNotFound: {
		recoverability: NonRecoverable,
		agentAction:    "Launch a new session.",
	},
	CodeInvalidTransition: {
		recoverability: NonRecoverable,
		agentAction:    "Internal error — invalid state transition.",
	},
	CodeDeadlineExceeded: {
		recoverability: Escalatable,
		agentAction:    "State timed out. Evaluate and recover.",
	},
	CodeStepBudgetExceeded: {
		recoverability: NonRecoverable,
		agentAction:    "Maximum steps reached. Report progress and stop.",
		userAction:     "Task hit step limit. Review partial results.",
	},
	CodeUnknown: {
		recoverability: NonRecoverable,
		agentAction:    "Take a snapshot to assess state.",
	},
}

// Stable error codes.
const (
	CodeTimeoutAction      = "TIMEOUT_ACTION"
	CodeTimeoutNavigation  = "TIMEOUT_NAVIGATION"
	CodeElementNotVisible  = "ELEMENT_NOT_VISIBLE"
	CodeElementDetached    = "ELEMENT_DETACHED"
	CodeElementNotFound    = "ELEMENT_NOT_FOUND"
	CodeRefNotFound        = "REF_NOT_FOUND"
	CodeFrameDetached      = "FRAME_DETACHED"
	CodeContextDestroyed   = "CONTEXT_DESTROYED"
	CodeTargetClosed       = "TARGET_CLOSED"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeChallengeDetected  = "CHALLENGE_DETECTED"
	CodeCaptchaDetected    = "CAPTCHA_DETECTED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeBrowserCrashed     = "BROWSER_CRASHED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeDeadlineExceeded   = "DEADLINE_EXCEEDED"
	CodeStepBudgetExceeded = "STEP_BUDGET_EXCEEDED"
	CodeUnknown            = "UNKNOWN"
)

// New creates a BrowserError from the catalog, with defaults for the
// given code. Unknown codes fall back to the UNKNOWN entry.
func New(code, message string) *BrowserError {
	entry, ok := catalog[code]
	if !ok {
		entry = catalog[CodeUnknown]
	}
	return &BrowserError{
		Code:           code,
		Message:        message,
		Recoverability: entry.recoverability,
		AgentAction:    entry.agentAction,
		UserAction:     entry.userAction,
		TimestampMS:    time.Now().UnixMilli(),
	}
}

// Wrap creates a catalogued BrowserError carrying cause for unwrapping.
func Wrap(code, message string, cause error) *BrowserError {
	e := New(code, message)
	e.Cause = cause
	return e
}
