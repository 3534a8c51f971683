// Package solver detects CAPTCHA parameters on a page and delegates the
// solve to third-party services: CapSolver first (AI, seconds), then
// 2Captcha (human fallback, broader coverage). The solved token is
// injected back into the page. The package never solves anything itself.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/browserd/internal/browser"
)

// Result reports the outcome of a solve attempt.
type Result struct {
	Success     bool    `json:"success"`
	CaptchaType string  `json:"captcha_type,omitempty"`
	Solver      string  `json:"solver,omitempty"`
	SolveTimeS  float64 `json:"solve_time_s,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Solver holds the configured solver credentials and HTTP client.
type Solver struct {
	capSolverKey  string
	twoCaptchaKey string
	client        *http.Client

	// endpoint and pacing overrides for tests.
	capSolverURL   string
	twoCaptchaURL  string
	capPollEvery   time.Duration
	twoPollEvery   time.Duration
	twoInitialWait time.Duration
}

// New creates a Solver. Either key may be empty; Configured reports
// whether at least one backend is usable.
func New(capSolverKey, twoCaptchaKey string) *Solver {
	return &Solver{
		capSolverKey:   capSolverKey,
		twoCaptchaKey:  twoCaptchaKey,
		client:         &http.Client{Timeout: 15 * time.Second},
		capSolverURL:   "https://api.capsolver.com",
		twoCaptchaURL:  "https://2captcha.com",
		capPollEvery:   2 * time.Second,
		twoPollEvery:   5 * time.Second,
		twoInitialWait: 10 * time.Second,
	}
}

// Configured reports whether any solver backend has credentials.
func (s *Solver) Configured() bool {
	return s != nil && (s.capSolverKey != "" || s.twoCaptchaKey != "")
}

// Solve extracts the challenge from page, submits it to the configured
// backends in order, and injects the token on success.
func (s *Solver) Solve(ctx context.Context, page browser.Page) *Result {
	start := time.Now()

	raw, err := page.Evaluate(ctx, extractSitekeyJS)
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to extract CAPTCHA info: %v", err)}
	}
	info, _ := raw.(map[string]any)
	captchaType, _ := info["type"].(string)
	sitekey, _ := info["sitekey"].(string)
	action, _ := info["action"].(string)

	if captchaType == "" || sitekey == "" {
		return &Result{Error: "No CAPTCHA detected on page (no sitekey found). " +
			"Page may use a non-standard CAPTCHA or challenge."}
	}

	pageURL := page.URL()
	token := ""
	solverUsed := ""

	if s.capSolverKey != "" {
		token, err = s.solveCapSolver(ctx, captchaType, sitekey, pageURL, action)
		if err != nil {
			log.Debug().Err(err).Str("type", captchaType).Msg("capsolver attempt failed")
		}
		if token != "" {
			solverUsed = "capsolver"
		}
	}

	if token == "" && s.twoCaptchaKey != "" {
		token, err = s.solveTwoCaptcha(ctx, captchaType, sitekey, pageURL, action)
		if err != nil {
			log.Debug().Err(err).Str("type", captchaType).Msg("2captcha attempt failed")
		}
		if token != "" {
			solverUsed = "2captcha"
		}
	}

	if token == "" {
		var tried []string
		if s.capSolverKey != "" {
			tried = append(tried, "capsolver")
		}
		if s.twoCaptchaKey != "" {
			tried = append(tried, "2captcha")
		}
		if len(tried) == 0 {
			return &Result{Error: "No CAPTCHA solver API keys configured."}
		}
		key := sitekey
		if len(key) > 16 {
			key = key[:16]
		}
		return &Result{
			CaptchaType: captchaType,
			Error: fmt.Sprintf("All solvers failed for %s (sitekey: %s...). Tried: %s",
				captchaType, key, strings.Join(tried, ", ")),
		}
	}

	if inject, ok := injectTokenJS[captchaType]; ok {
		quoted, _ := json.Marshal(token)
		if _, err := page.Evaluate(ctx, fmt.Sprintf("(%s)(%s)", inject, quoted)); err != nil {
			return &Result{
				CaptchaType: captchaType,
				Solver:      solverUsed,
				Error:       fmt.Sprintf("Token obtained but injection failed: %v", err),
			}
		}
	}

	return &Result{
		Success:     true,
		CaptchaType: captchaType,
		Solver:      solverUsed,
		SolveTimeS:  float64(int(time.Since(start).Seconds()*10)) / 10,
	}
}

// ---------------------------------------------------------------------------
// CapSolver backend
// ---------------------------------------------------------------------------

var capSolverTasks = map[string]string{
	"recaptcha_v2": "ReCaptchaV2TaskProxyLess",
	"recaptcha_v3": "ReCaptchaV3TaskProxyLess",
	"hcaptcha":     "HCaptchaTaskProxyLess",
	"turnstile":    "AntiTurnstileTaskProxyLess",
}

func (s *Solver) solveCapSolver(ctx context.Context, captchaType, sitekey, pageURL, action string) (string, error) {
	taskType, ok := capSolverTasks[captchaType]
	if !ok {
		return "", fmt.Errorf("unsupported captcha type %q", captchaType)
	}

	task := map[string]any{
		"type":       taskType,
		"websiteURL": pageURL,
		"websiteKey": sitekey,
	}
	if captchaType == "recaptcha_v3" {
		if action == "" {
			action = "verify"
		}
		task["pageAction"] = action
		task["minScore"] = 0.7
	}

	created, err := s.postJSON(ctx, s.capSolverURL+"/createTask", map[string]any{
		"clientKey": s.capSolverKey,
		"task":      task,
	})
	if err != nil {
		return "", err
	}
	if errID, _ := created["errorId"].(float64); errID != 0 {
		return "", fmt.Errorf("createTask error: %v", created["errorDescription"])
	}

	// Some tasks return the solution immediately.
	if token := capSolverToken(created); token != "" {
		return token, nil
	}
	taskID, _ := created["taskId"].(string)
	if taskID == "" {
		return "", fmt.Errorf("createTask returned no taskId")
	}

	// Poll for the result, max ~120s.
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.capPollEvery):
		}
		polled, err := s.postJSON(ctx, s.capSolverURL+"/getTaskResult", map[string]any{
			"clientKey": s.capSolverKey,
			"taskId":    taskID,
		})
		if err != nil {
			return "", err
		}
		status, _ := polled["status"].(string)
		if status == "ready" {
			return capSolverToken(polled), nil
		}
		if errID, _ := polled["errorId"].(float64); status == "failed" || errID != 0 {
			return "", fmt.Errorf("task failed: %v", polled["errorDescription"])
		}
	}
	return "", fmt.Errorf("polling timed out")
}

func capSolverToken(payload map[string]any) string {
	solution, _ := payload["solution"].(map[string]any)
	if solution == nil {
		return ""
	}
	if t, _ := solution["gRecaptchaResponse"].(string); t != "" {
		return t
	}
	t, _ := solution["token"].(string)
	return t
}

// ---------------------------------------------------------------------------
// 2Captcha backend
// ---------------------------------------------------------------------------

func (s *Solver) solveTwoCaptcha(ctx context.Context, captchaType, sitekey, pageURL, action string) (string, error) {
	params := url.Values{}
	params.Set("key", s.twoCaptchaKey)
	params.Set("json", "1")

	switch captchaType {
	case "recaptcha_v2", "recaptcha_v3":
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", sitekey)
		params.Set("pageurl", pageURL)
		if captchaType == "recaptcha_v3" {
			if action == "" {
				action = "verify"
			}
			params.Set("version", "v3")
			params.Set("action", action)
			params.Set("min_score", "0.7")
		}
	case "hcaptcha":
		params.Set("method", "hcaptcha")
		params.Set("sitekey", sitekey)
		params.Set("pageurl", pageURL)
	case "turnstile":
		params.Set("method", "turnstile")
		params.Set("sitekey", sitekey)
		params.Set("pageurl", pageURL)
	default:
		return "", fmt.Errorf("unsupported captcha type %q", captchaType)
	}

	submitted, err := s.postForm(ctx, s.twoCaptchaURL+"/in.php", params)
	if err != nil {
		return "", err
	}
	if status, _ := submitted["status"].(float64); status != 1 {
		return "", fmt.Errorf("submit rejected: %v", submitted["request"])
	}
	requestID, _ := submitted["request"].(string)
	if requestID == "" {
		return "", fmt.Errorf("submit returned no request id")
	}

	// 2Captcha needs an initial wait before the first poll; max ~180s.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.twoInitialWait):
	}
	for i := 0; i < 34; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.twoPollEvery):
		}
		poll := url.Values{}
		poll.Set("key", s.twoCaptchaKey)
		poll.Set("action", "get")
		poll.Set("id", requestID)
		poll.Set("json", "1")
		polled, err := s.getJSON(ctx, s.twoCaptchaURL+"/res.php?"+poll.Encode())
		if err != nil {
			return "", err
		}
		if status, _ := polled["status"].(float64); status == 1 {
			token, _ := polled["request"].(string)
			return token, nil
		}
		if req, _ := polled["request"].(string); req != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("poll error: %s", req)
		}
	}
	return "", fmt.Errorf("polling timed out")
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (s *Solver) postJSON(ctx context.Context, endpoint string, body map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("solver: encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("solver: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *Solver) postForm(ctx context.Context, endpoint string, form url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("solver: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *Solver) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("solver: building request: %w", err)
	}
	return s.do(req)
}

func (s *Solver) do(req *http.Request) (map[string]any, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solver: request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("solver: reading response: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("solver: parsing response: %w", err)
	}
	return out, nil
}
