package errors

import (
	"regexp"
	"strings"
)

var (
	timeoutMSRE = regexp.MustCompile(`(\d+)ms`)
	netErrRE    = regexp.MustCompile(`net::(ERR_\w+)`)
)

// pattern maps a lowercase substring of a raw runtime error message to a
// stable code and a message builder.
type pattern struct {
	substr  string
	code    string
	message func(raw string) string
}

// patternMap is checked in order; the first match wins.
var patternMap = []pattern{
	{"timeout", CodeTimeoutAction, func(raw string) string {
		ms := "30000"
		if m := timeoutMSRE.FindStringSubmatch(raw); m != nil {
			ms = m[1]
		}
		return "Action timed out after " + ms + "ms."
	}},
	{"not visible", CodeElementNotVisible, func(string) string {
		return "Element is present but not visible (hidden by CSS, behind overlay, or off-screen)."
	}},
	{"frame was detached", CodeFrameDetached, func(string) string {
		return "The iframe navigated away during the action."
	}},
	{"detached", CodeElementDetached, func(string) string {
		return "Element was removed from the DOM (page content changed)."
	}},
	{"target closed", CodeTargetClosed, func(string) string {
		return "Browser tab or context was closed."
	}},
	{"net::err_", CodeNetworkError, func(raw string) string {
		netErr := "unknown network error"
		if m := netErrRE.FindStringSubmatch(raw); m != nil {
			netErr = m[1]
		}
		return "Network error: " + netErr + "."
	}},
	{"execution context was destroyed", CodeContextDestroyed, func(string) string {
		return "Page navigated during the action."
	}},
	{"429", CodeRateLimited, func(string) string {
		return "Site returned HTTP 429 (Too Many Requests). Slow down."
	}},
	{"captcha", CodeCaptchaDetected, func(string) string {
		return "CAPTCHA detected on the page."
	}},
	{"browser has been closed", CodeBrowserCrashed, func(string) string {
		return "Browser process exited unexpectedly."
	}},
}

// Classify maps a raw runtime error into a structured BrowserError.
// Already-classified errors pass through unchanged.
func Classify(err error) *BrowserError {
	if err == nil {
		return nil
	}
	if be, ok := err.(*BrowserError); ok {
		return be
	}

	raw := err.Error()
	lower := strings.ToLower(raw)
	for _, p := range patternMap {
		if strings.Contains(lower, p.substr) {
			return Wrap(p.code, p.message(raw), err)
		}
	}
	return Wrap(CodeUnknown, "Browser error: "+raw, err)
}

// AgentMessage is a convenience wrapper returning the agent-facing string
// for an arbitrary runtime error.
func AgentMessage(err error) string {
	return Classify(err).AgentMessage()
}
