package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/browserd/internal/actions"
	"github.com/allaspectsdev/browserd/internal/browser"
	"github.com/allaspectsdev/browserd/internal/detect"
	"github.com/allaspectsdev/browserd/internal/envelope"
	"github.com/allaspectsdev/browserd/internal/profile"
	"github.com/allaspectsdev/browserd/internal/session"
	"github.com/allaspectsdev/browserd/internal/snapshot"
)

// hostOf extracts the lowercase host of a URL, empty on parse failure.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// apiRequest is the union of all op payloads.
type apiRequest struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id"`

	// launch
	Tier              int           `json:"tier"`
	Profile           string        `json:"profile"`
	URL               string        `json:"url"`
	Viewport          *browser.Size `json:"viewport"`
	Humanize          *bool         `json:"humanize"`
	HumanizeIntensity *float64      `json:"humanize_intensity"`

	// action
	Action string          `json:"action"`
	Params actions.Params  `json:"params"`
	RefMap snapshot.RefMap `json:"ref_map"`

	// actions (batch)
	Actions     []actions.BatchStep `json:"actions"`
	StopOnError *bool               `json:"stop_on_error"`

	// snapshot
	Compact           *bool `json:"compact"`
	MaxDepth          *int  `json:"max_depth"`
	CursorInteractive *bool `json:"cursor_interactive"`

	// screenshot
	FullPage bool `json:"full_page"`

	// close
	SaveProfile string `json:"save_profile"`

	// profile sub-ops
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Handler routes decoded ops to the session registry and dispatcher.
type Handler struct {
	registry    *session.Registry
	dispatcher  *actions.Dispatcher
	profiles    *profile.Store
	domainTiers *profile.DomainTiers
	maxBytes    int
}

// NewHandler creates a Handler. maxBytes is the response envelope cap;
// domainTiers may be nil to disable the per-domain tier cache; a launch
// without a tier still takes the URL's recommended tier.
func NewHandler(registry *session.Registry, dispatcher *actions.Dispatcher, profiles *profile.Store, domainTiers *profile.DomainTiers, maxBytes int) *Handler {
	if maxBytes <= 0 {
		maxBytes = 100_000
	}
	return &Handler{
		registry:    registry,
		dispatcher:  dispatcher,
		profiles:    profiles,
		domainTiers: domainTiers,
		maxBytes:    maxBytes,
	}
}

// HandleHealth serves GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.registry.Count(),
	})
}

// HandleRequest serves POST /: decode, route, size-police, reply.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Invalid JSON: %v", err),
		})
		return
	}

	result := h.route(r, &req)
	result = envelope.Police(result, h.maxBytes)
	writeJSON(w, http.StatusOK, result)
}

// route dispatches one decoded request.
func (h *Handler) route(r *http.Request, req *apiRequest) map[string]any {
	ctx := r.Context()

	switch req.Op {
	case "launch":
		// With no explicit tier, pick from the domain tier cache or the
		// pre-navigation protection profile of the target URL.
		if req.Tier == 0 && req.URL != "" {
			if host := hostOf(req.URL); host != "" && h.domainTiers != nil {
				req.Tier = h.domainTiers.Get(host)
			}
			if req.Tier == 0 {
				req.Tier = detect.Profile(req.URL, "", nil).RecommendedTier
			}
		}
		res, err := h.registry.Launch(ctx, session.LaunchParams{
			Tier:              req.Tier,
			Profile:           req.Profile,
			Viewport:          req.Viewport,
			URL:               req.URL,
			Humanize:          req.Humanize,
			HumanizeIntensity: req.HumanizeIntensity,
		})
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		out := map[string]any{
			"success":    true,
			"session_id": res.ID,
			"tier":       res.Tier,
		}
		if res.URL != "" {
			out["url"] = res.URL
			out["title"] = res.Title
		}
		if res.Warning != "" {
			out["warning"] = res.Warning
		}
		// A clean navigation confirms the tier works for the domain.
		if res.URL != "" && res.Warning == "" && h.domainTiers != nil {
			if host := hostOf(res.URL); host != "" {
				if err := h.domainTiers.Set(host, res.Tier); err != nil {
					log.Debug().Err(err).Str("domain", host).Msg("caching domain tier failed")
				}
			}
		}
		return out

	case "action":
		if req.SessionID == "" {
			return missing("session_id")
		}
		if req.Action == "" {
			return missing("action")
		}
		return h.dispatcher.Execute(ctx, req.SessionID, req.Action, req.Params, req.RefMap)

	case "actions":
		if req.SessionID == "" {
			return missing("session_id")
		}
		stopOnError := true
		if req.StopOnError != nil {
			stopOnError = *req.StopOnError
		}
		return h.dispatcher.ExecuteBatch(ctx, req.SessionID, req.Actions, stopOnError)

	case "snapshot":
		if req.SessionID == "" {
			return missing("session_id")
		}
		params := actions.Params{}
		if req.Compact != nil {
			params["compact"] = *req.Compact
		}
		if req.MaxDepth != nil {
			params["max_depth"] = float64(*req.MaxDepth)
		}
		if req.CursorInteractive != nil {
			params["cursor_interactive"] = *req.CursorInteractive
		}
		return h.dispatcher.Execute(ctx, req.SessionID, "snapshot", params, req.RefMap)

	case "screenshot":
		if req.SessionID == "" {
			return missing("session_id")
		}
		return h.dispatcher.Execute(ctx, req.SessionID, "screenshot",
			actions.Params{"full_page": req.FullPage}, nil)

	case "close":
		if req.SessionID == "" {
			return missing("session_id")
		}
		if req.SaveProfile != "" {
			if _, _, err := h.registry.SaveState(req.SessionID, req.SaveProfile); err != nil {
				log.Warn().Err(err).Str("session_id", req.SessionID).Msg("saving state before close failed")
			}
		}
		if err := h.registry.Close(req.SessionID); err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": true}

	case "save":
		if req.SessionID == "" {
			return missing("session_id")
		}
		name, path, err := h.registry.SaveState(req.SessionID, req.Profile)
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": true, "profile": name, "path": path}

	case "status":
		if req.SessionID != "" {
			info := h.registry.Info(req.SessionID)
			if info == nil {
				return map[string]any{
					"success": false,
					"error":   fmt.Sprintf("Session %s not found", req.SessionID),
				}
			}
			info["success"] = true
			return info
		}
		return map[string]any{"success": true, "sessions": h.registry.List()}

	case "profile":
		return h.routeProfile(req)

	case "ping":
		return map[string]any{"success": true, "message": "pong"}

	default:
		return map[string]any{
			"success": false,
			"error": fmt.Sprintf("Unknown op: %s. Valid: launch, action, actions, snapshot, "+
				"screenshot, close, save, status, profile, ping", req.Op),
		}
	}
}

// routeProfile handles the profile sub-operations.
func (h *Handler) routeProfile(req *apiRequest) map[string]any {
	sub := req.Action
	if sub == "" {
		sub = "list"
	}
	switch sub {
	case "create":
		tier := req.Tier
		if tier == 0 {
			tier = 1
		}
		meta, err := h.profiles.Create(req.Name, req.Domain, tier)
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": true, "profile": meta}

	case "load":
		meta, err := h.profiles.Load(req.Name)
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": meta != nil, "profile": meta}

	case "list":
		profiles, err := h.profiles.List()
		if err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": true, "profiles": profiles}

	case "delete":
		if err := h.profiles.Delete(req.Name); err != nil {
			return map[string]any{"success": false, "error": err.Error()}
		}
		return map[string]any{"success": true}

	default:
		return map[string]any{"success": false, "error": "Unknown profile action: " + sub}
	}
}

func missing(field string) map[string]any {
	return map[string]any{"success": false, "error": "Missing " + field}
}
