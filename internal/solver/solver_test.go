package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser/browsertest"
)

// captchaPage fakes a page carrying a reCAPTCHA v2 widget. The evaluate
// hook answers the extraction script and records the injection call.
func captchaPage(injected *string) *browsertest.FakePage {
	ctx := browsertest.NewFakeContext()
	p := browsertest.NewFakePage("https://target.example/login", "Login")
	p.EvaluateFunc = func(js string, args ...any) (any, error) {
		if strings.Contains(js, "data-sitekey") && strings.Contains(js, "result.type") {
			return map[string]any{
				"type":    "recaptcha_v2",
				"sitekey": "site-key-123",
				"action":  nil,
			}, nil
		}
		// Token injection call.
		*injected = js
		return nil, nil
	}
	ctx.AddPage(p)
	return p
}

func TestSolve_NoKeysConfigured(t *testing.T) {
	s := New("", "")
	if s.Configured() {
		t.Error("empty solver should not report configured")
	}
}

func TestSolve_NoSitekeyFound(t *testing.T) {
	ctx := browsertest.NewFakeContext()
	p := browsertest.NewFakePage("https://x.example/", "Plain")
	p.EvaluateFunc = func(js string, args ...any) (any, error) {
		return map[string]any{"type": nil, "sitekey": nil}, nil
	}
	ctx.AddPage(p)

	s := New("k", "")
	res := s.Solve(context.Background(), p)
	if res.Success {
		t.Fatal("no sitekey should fail")
	}
	if !strings.Contains(res.Error, "No CAPTCHA detected") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestSolve_CapSolverImmediateSolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/createTask":
			task, _ := body["task"].(map[string]any)
			if task["type"] != "ReCaptchaV2TaskProxyLess" {
				t.Errorf("task type = %v", task["type"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"errorId":  0,
				"solution": map[string]any{"gRecaptchaResponse": "token-abc"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	injected := ""
	page := captchaPage(&injected)

	s := New("cap-key", "")
	s.capSolverURL = srv.URL

	res := s.Solve(context.Background(), page)
	if !res.Success {
		t.Fatalf("solve failed: %s", res.Error)
	}
	if res.Solver != "capsolver" || res.CaptchaType != "recaptcha_v2" {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(injected, "token-abc") {
		t.Error("token should be injected into the page")
	}
}

func TestSolve_CapSolverPollsTaskResult(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "taskId": "t-1"})
		case "/getTaskResult":
			polls++
			if polls < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"errorId": 0, "status": "ready",
				"solution": map[string]any{"token": "turnstile-token"},
			})
		}
	}))
	defer srv.Close()

	injected := ""
	page := captchaPage(&injected)

	s := New("cap-key", "")
	s.capSolverURL = srv.URL
	s.capPollEvery = time.Millisecond

	res := s.Solve(context.Background(), page)
	if !res.Success {
		t.Fatalf("solve failed: %s", res.Error)
	}
	if polls < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
}

func TestSolve_FallsBackToTwoCaptcha(t *testing.T) {
	capSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 1, "errorDescription": "out of credit"})
	}))
	defer capSrv.Close()

	twoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "request": "req-9"})
		case "/res.php":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "request": "human-token"})
		}
	}))
	defer twoSrv.Close()

	injected := ""
	page := captchaPage(&injected)

	s := New("cap-key", "two-key")
	s.capSolverURL = capSrv.URL
	s.twoCaptchaURL = twoSrv.URL
	s.twoInitialWait = time.Millisecond
	s.twoPollEvery = time.Millisecond

	res := s.Solve(context.Background(), page)
	if !res.Success {
		t.Fatalf("solve failed: %s", res.Error)
	}
	if res.Solver != "2captcha" {
		t.Errorf("solver = %q, want 2captcha fallback", res.Solver)
	}
	if !strings.Contains(injected, "human-token") {
		t.Error("fallback token should be injected")
	}
}

func TestSolve_AllSolversFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 1})
	}))
	defer srv.Close()

	injected := ""
	page := captchaPage(&injected)

	s := New("cap-key", "")
	s.capSolverURL = srv.URL

	res := s.Solve(context.Background(), page)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "All solvers failed") || !strings.Contains(res.Error, "capsolver") {
		t.Errorf("error = %q", res.Error)
	}
}
