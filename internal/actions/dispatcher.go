package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/detect"
	berrors "github.com/allaspectsdev/browserd/internal/errors"
	"github.com/allaspectsdev/browserd/internal/loopdetect"
	"github.com/allaspectsdev/browserd/internal/ratelimit"
	"github.com/allaspectsdev/browserd/internal/session"
	"github.com/allaspectsdev/browserd/internal/snapshot"
	"github.com/allaspectsdev/browserd/internal/solver"
	"github.com/allaspectsdev/browserd/internal/store"
	"github.com/allaspectsdev/browserd/internal/tracing"
)

// loopSkipVerbs never feed the loop detector.
var loopSkipVerbs = map[string]bool{
	"snapshot":      true,
	"screenshot":    true,
	"done":          true,
	"wait":          true,
	"search_page":   true,
	"find_elements": true,
	"extract":       true,
	"get_downloads": true,
}

// sensitiveBoostIntensity is the humanization floor on sensitive
// domains.
const sensitiveBoostIntensity = 1.3

// Config carries the dispatcher knobs resolved from the daemon config.
type Config struct {
	EvaluateEnabled  bool
	WebMCPMode       string // "auto", "1", "0"
	NavTimeout       time.Duration
	ActionTimeout    time.Duration
	MaxBatch         int
	MaxSnapshotDepth int

	// SensitiveDomains are the non-default keys of the rate-limit
	// table; humanization intensity is boosted there.
	SensitiveDomains map[string]bool
}

// Dispatcher routes action requests through the unified pipeline.
type Dispatcher struct {
	registry *session.Registry
	limiter  *ratelimit.Limiter
	solve    *solver.Solver
	snap     *snapshot.Engine
	st       *store.Store // optional audit log; nil disables

	evaluateEnabled  bool
	webmcpMode       string
	navTimeout       time.Duration
	actionTimeout    time.Duration
	maxBatch         int
	maxSnapshotDepth int
	sensitiveDomains map[string]bool

	// fallbackShot is the third screenshot rung; injectable for tests.
	fallbackShot func(ctx context.Context, url string, fullPage bool) ([]byte, error)
}

// NewDispatcher wires the pipeline. solve and st may be nil.
func NewDispatcher(registry *session.Registry, limiter *ratelimit.Limiter, solve *solver.Solver, st *store.Store, cfg Config) *Dispatcher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 20
	}
	if cfg.MaxSnapshotDepth <= 0 {
		cfg.MaxSnapshotDepth = 10
	}
	return &Dispatcher{
		registry:         registry,
		limiter:          limiter,
		solve:            solve,
		snap:             registry.Snapshotter(),
		st:               st,
		evaluateEnabled:  cfg.EvaluateEnabled,
		webmcpMode:       cfg.WebMCPMode,
		navTimeout:       cfg.NavTimeout,
		actionTimeout:    cfg.ActionTimeout,
		maxBatch:         cfg.MaxBatch,
		maxSnapshotDepth: cfg.MaxSnapshotDepth,
		sensitiveDomains: cfg.SensitiveDomains,
		fallbackShot:     browser.FallbackScreenshot,
	}
}

// MaxBatch returns the batch step cap.
func (d *Dispatcher) MaxBatch() int { return d.maxBatch }

// Execute runs one action with the full pipeline: session resolution,
// lock, rate limiting, execution, loop detection, rate accounting, ref
// persistence, block detection. reqRefMap, when non-nil, overrides the
// session ref map for this call only.
func (d *Dispatcher) Execute(ctx context.Context, sessionID, verb string, params Params, reqRefMap snapshot.RefMap) Result {
	s := d.registry.Get(sessionID)
	if s == nil {
		return failCode(berrors.CodeSessionNotFound,
			fmt.Sprintf("Session %s not found or expired", sessionID))
	}

	s.Lock()
	defer s.Unlock()
	s.Touch()

	return d.executeLocked(ctx, s, verb, params, reqRefMap)
}

// executeLocked is the pipeline body, called with the session mutex
// held. Batch mode reuses it for each step under one lock hold.
func (d *Dispatcher) executeLocked(ctx context.Context, s *session.Session, verb string, params Params, reqRefMap snapshot.RefMap) Result {
	handler, known := handlers[verb]
	if !known {
		return fail(fmt.Sprintf("Unknown action: %s. Available: %s", verb, strings.Join(Verbs(), ", ")))
	}

	page := s.Page
	domain := hostOf(page.URL())

	// Rate limiting, with read-only verbs exempt.
	if !ratelimit.ExemptVerbs[verb] {
		if !d.limiter.Check(domain) {
			wait := d.limiter.WaitTime(domain)
			r := failCode(berrors.CodeRateLimited,
				fmt.Sprintf("Rate limited on %s. Wait %.1fs.", domain, wait))
			r["wait_seconds"] = roundTenth(wait)
			return r
		}
	}

	// Materialize the call context.
	refMap := s.RefMap
	if reqRefMap != nil {
		refMap = reqRefMap
	}
	intensity := s.HumanizeIntensity
	if s.Humanize && d.sensitiveDomains[domain] && intensity < sensitiveBoostIntensity {
		intensity = sensitiveBoostIntensity
	}
	actx := &Ctx{
		Session:   s,
		RefMap:    refMap,
		Tier:      s.Tier,
		Humanize:  s.Humanize,
		Intensity: intensity,
		Tools:     s.Tools,
		Downloads: s.SnapshotDownloads(),
		d:         d,
	}

	// Credential references in fill values resolve against the
	// session's profile before the handler sees them.
	if verb == "fill" && s.Profile != "" {
		if value, isStr := params["value"].(string); isStr {
			resolved := d.registry.Profiles().ResolveCredential(s.Profile, value)
			if resolved != value {
				params = cloneParams(params)
				params["value"] = resolved
			}
		}
	}

	oldURL := page.URL()

	actionCtx, span := tracing.StartActionSpan(ctx, verb, s.ID, s.Tier)
	start := time.Now()
	result := d.invoke(actionCtx, handler, page, params, actx)
	duration := time.Since(start)
	tracing.EndActionSpan(span, succeeded(result))

	s.ActionCount++

	// The active page may have changed (tab actions).
	activePage := s.Page
	pageChanged, _ := result["page_changed"].(bool)

	// Loop detection.
	if !loopSkipVerbs[verb] {
		var fp *loopdetect.Fingerprint
		currentRefs := actx.RefMap
		if len(currentRefs) > 0 {
			fp = loopdetect.NewFingerprint(activePage.URL(), toLoopRefs(currentRefs), tabCount(activePage))
		}
		if warning := s.Loop.Record(verb, params, fp); warning != "" {
			result["loop_warning"] = warning
		}
	}

	// Cross-domain navigation resets the loop window.
	if pageChanged && hostOf(oldURL) != hostOf(activePage.URL()) {
		s.Loop.Reset()
	}

	// A failed action does not consume quota.
	if !ratelimit.ExemptVerbs[verb] && succeeded(result) {
		d.limiter.Record(hostOf(activePage.URL()))
	}

	// Snapshot output becomes the authoritative session ref map.
	if verb == "snapshot" && succeeded(result) {
		s.RefMap = actx.RefMap
		result["refs"] = actx.RefMap
	}

	// Block detection after page-changing actions, with CAPTCHA
	// delegation when a solver is configured.
	if pageChanged {
		d.detectBlock(ctx, activePage, result)
	}

	// Compaction metering over the payload the agent will read.
	if content, isStr := result["extracted_content"].(string); isStr {
		s.Compaction.RecordStep(len(content))
	} else if tree, isStr := result["tree"].(string); isStr {
		s.Compaction.RecordStep(len(tree))
	}
	if hint := s.Compaction.Hint(); hint != "" {
		result["compaction_hint"] = hint
	}

	d.audit(s.ID, verb, hostOf(activePage.URL()), result, duration)
	return result
}

// invoke runs the handler, converting panics into classified errors so
// one bad verb cannot take the daemon down.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, page browser.Page, params Params, actx *Ctx) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("session_id", actx.Session.ID).Msg("action handler panicked")
			result = failCode(berrors.CodeUnknown, fmt.Sprintf("internal error: %v", rec))
		}
	}()
	return handler(ctx, page, params, actx)
}

// detectBlock classifies the new page and, for cloudflare/captcha with
// solver credentials present, delegates the solve and annotates the
// result.
func (d *Dispatcher) detectBlock(ctx context.Context, page browser.Page, result Result) {
	protection := detect.IsBlocked(ctx, page)
	if protection == "" {
		return
	}
	result["blocked"] = true
	result["protection"] = protection

	if (protection == "cloudflare" || protection == "captcha") && d.solve.Configured() {
		solveCtx, cancel := context.WithTimeout(ctx, 4*time.Minute)
		solved := d.solve.Solve(solveCtx, page)
		cancel()
		if solved.Success {
			result["captcha_solved"] = true
			result["solver"] = solved.Solver
			result["solve_time_s"] = solved.SolveTimeS
			result["blocked"] = false
		} else {
			result["captcha_solve_failed"] = true
			result["captcha_error"] = solved.Error
		}
	}
}

// audit writes the action to the store when persistence is enabled.
func (d *Dispatcher) audit(sessionID, verb, domain string, result Result, duration time.Duration) {
	if d.st == nil {
		return
	}
	code, _ := result["code"].(string)
	rec := store.ActionRecord{
		SessionID:  sessionID,
		Verb:       verb,
		Domain:     domain,
		Success:    succeeded(result),
		DurationMS: duration.Milliseconds(),
		ErrorCode:  code,
	}
	if err := d.st.RecordAction(rec); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("action audit write failed")
	}
}

// ---------------------------------------------------------------------------
// Batch mode
// ---------------------------------------------------------------------------

// BatchStep is one step of a batch request.
type BatchStep struct {
	Action string `json:"action"`
	Params Params `json:"params"`
}

// ExecuteBatch runs up to MaxBatch steps in order under one session
// lock hold. With stopOnError (the default), the first failing step
// stops the batch and its index is reported as stopped_at. Refs set by
// a snapshot step are visible to subsequent steps.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, sessionID string, steps []BatchStep, stopOnError bool) Result {
	if len(steps) == 0 {
		return fail("Missing or invalid 'actions' list")
	}
	if len(steps) > d.maxBatch {
		return fail(fmt.Sprintf("Batch limited to %d actions", d.maxBatch))
	}

	s := d.registry.Get(sessionID)
	if s == nil {
		return failCode(berrors.CodeSessionNotFound,
			fmt.Sprintf("Session %s not found or expired", sessionID))
	}

	s.Lock()
	defer s.Unlock()
	s.Touch()

	results := make([]Result, 0, len(steps))
	stoppedAt := -1
	for i, step := range steps {
		var r Result
		if step.Action == "" {
			r = fail(fmt.Sprintf("Action at index %d missing 'action' field", i))
		} else {
			r = d.executeLocked(ctx, s, step.Action, step.Params, nil)
		}
		results = append(results, r)
		if !succeeded(r) && stopOnError {
			stoppedAt = i
			break
		}
	}

	out := Result{
		"success": stoppedAt < 0,
		"results": results,
	}
	if stoppedAt >= 0 {
		out["stopped_at"] = stoppedAt
		if msg, isStr := results[stoppedAt]["error"].(string); isStr {
			out["error"] = msg
		} else {
			out["error"] = "Action failed"
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func toLoopRefs(refs snapshot.RefMap) map[string]loopdetect.RefEntry {
	out := make(map[string]loopdetect.RefEntry, len(refs))
	for token, entry := range refs {
		out[token] = loopdetect.RefEntry{Role: entry.Role, Name: entry.Name, Nth: entry.Nth}
	}
	return out
}

func tabCount(page browser.Page) int {
	return len(page.Context().Pages())
}

func cloneParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func roundTenth(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
