package errors

import (
	"fmt"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Pattern classification
// ---------------------------------------------------------------------------

func TestClassify_Patterns(t *testing.T) {
	cases := []struct {
		raw  string
		code string
	}{
		{"TimeoutError: Timeout 30000ms exceeded", CodeTimeoutAction},
		{"element is not visible", CodeElementNotVisible},
		{"element was detached from the DOM", CodeElementDetached},
		{"Target closed", CodeTargetClosed},
		{"net::ERR_CONNECTION_REFUSED at https://x", CodeNetworkError},
		{"navigating frame was detached", CodeFrameDetached},
		{"Execution context was destroyed, most likely because of a navigation", CodeContextDestroyed},
		{"upstream returned 429", CodeRateLimited},
		{"page shows a captcha widget", CodeCaptchaDetected},
		{"something nobody has seen before", CodeUnknown},
	}

	for _, tc := range cases {
		got := Classify(fmt.Errorf("%s", tc.raw))
		if got.Code != tc.code {
			t.Errorf("Classify(%q).Code = %s, want %s", tc.raw, got.Code, tc.code)
		}
	}
}

func TestClassify_ExtractsTimeoutMillis(t *testing.T) {
	got := Classify(fmt.Errorf("TimeoutError: Timeout 10000ms exceeded"))
	if !strings.Contains(got.Message, "10000ms") {
		t.Errorf("message %q should carry the timeout value", got.Message)
	}
}

func TestClassify_ExtractsNetError(t *testing.T) {
	got := Classify(fmt.Errorf("net::ERR_NAME_NOT_RESOLVED"))
	if !strings.Contains(got.Message, "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("message %q should name the network error", got.Message)
	}
}

func TestClassify_PassesThroughBrowserError(t *testing.T) {
	orig := New(CodeRateLimited, "slow down")
	got := Classify(orig)
	if got != orig {
		t.Error("already-classified errors must pass through unchanged")
	}
}

func TestClassify_NilIsNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

// ---------------------------------------------------------------------------
// Catalog defaults
// ---------------------------------------------------------------------------

func TestCatalog_Recoverability(t *testing.T) {
	cases := []struct {
		code string
		want Recoverability
	}{
		{CodeTimeoutAction, Recoverable},
		{CodeElementNotFound, Recoverable},
		{CodeRefNotFound, Recoverable},
		{CodeRateLimited, Recoverable},
		{CodeTargetClosed, Escalatable},
		{CodeNetworkError, Escalatable},
		{CodeChallengeDetected, Escalatable},
		{CodeCaptchaDetected, Escalatable},
		{CodeDeadlineExceeded, Escalatable},
		{CodeBrowserCrashed, NonRecoverable},
		{CodeInvalidTransition, NonRecoverable},
		{CodeStepBudgetExceeded, NonRecoverable},
		{CodeUnknown, NonRecoverable},
	}
	for _, tc := range cases {
		got := New(tc.code, "x")
		if got.Recoverability != tc.want {
			t.Errorf("%s recoverability = %s, want %s", tc.code, got.Recoverability, tc.want)
		}
	}
}

func TestNew_UnknownCodeFallsBack(t *testing.T) {
	got := New("NO_SUCH_CODE", "x")
	if got.Recoverability != NonRecoverable {
		t.Errorf("unknown code should default to non_recoverable, got %s", got.Recoverability)
	}
	if got.Code != "NO_SUCH_CODE" {
		t.Errorf("code should be preserved, got %s", got.Code)
	}
}

func TestAgentMessage_AppendsSuggestion(t *testing.T) {
	e := New(CodeElementNotFound, "No such element.")
	msg := e.AgentMessage()
	if !strings.Contains(msg, "Suggested:") {
		t.Errorf("AgentMessage = %q, want a suggestion", msg)
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := fmt.Errorf("root cause")
	e := Wrap(CodeNetworkError, "network broke", cause)
	if e.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}
