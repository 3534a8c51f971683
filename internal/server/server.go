// Package server is the thin HTTP layer: one POST endpoint carrying the
// JSON op protocol, a GET /health probe, constant-time bearer auth, and
// the response size policing from the envelope package.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/allaspectsdev/browserd/internal/tracing"
)

// Server binds the chi router to the configured address and provides
// graceful shutdown.
type Server struct {
	router  chi.Router
	handler *Handler
	httpSrv *http.Server
}

// NewServer creates a Server. An empty authToken disables auth (dev
// mode); /health is always unauthenticated.
func NewServer(handler *Handler, addr, authToken string, readTimeout, writeTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	// Standard chi middleware.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Get("/health", handler.HandleHealth)

	r.Group(func(r chi.Router) {
		if authToken != "" {
			r.Use(AuthMiddleware(authToken))
		}
		r.Post("/", handler.HandleRequest)
	})

	srv := &Server{
		router:  r,
		handler: handler,
	}
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return srv
}

// Router returns the underlying chi.Router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// AuthMiddleware returns a chi-compatible middleware that validates a
// Bearer token using constant-time comparison. Requests without a valid
// token receive 401 (missing/malformed) or 403 (invalid).
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	tokenBytes := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"success": false,
					"error":   "Missing or malformed Authorization header",
				})
				return
			}

			provided := []byte(strings.TrimPrefix(authHeader, prefix))
			if subtle.ConstantTimeCompare(provided, tokenBytes) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]any{
					"success": false,
					"error":   "Invalid token",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestIDMiddleware attaches a correlation id to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id attached by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
