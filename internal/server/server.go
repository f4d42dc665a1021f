// Package server exposes the HTTP surface: the OpenAI-compatible chat and
// speech endpoints, the satellite WebSocket route, the bearer-protected
// admin surface, and the operational probes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/internal/auth"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/health"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/internal/profile"
	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// requestBodyLimit bounds JSON request bodies.
const requestBodyLimit = 1 << 20

// Pipeline processes one turn end to end.
type Pipeline interface {
	Process(ctx context.Context, turn types.Turn) pipeline.Resolution
}

// Synthesizer renders speech for the audio endpoint.
type Synthesizer interface {
	SynthesizeVoice(ctx context.Context, voiceID, text string, s types.Sentiment, includePhonemes bool) ([]byte, []types.PhonemeEvent, error)
}

// GuardEventStore lists recent guardrail events for the admin surface.
type GuardEventStore interface {
	RecentEvents(ctx context.Context, limit int) ([]guardrail.Event, error)
}

// PatternStore lists and toggles the stored direct-action patterns.
type PatternStore interface {
	ListActions(ctx context.Context) ([]action.StoredAction, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// Deps are the server's collaborators. Pipeline is required; nil optional
// deps disable their routes.
type Deps struct {
	Pipeline Pipeline

	// Synth backs /v1/audio/speech.
	Synth Synthesizer

	// Gateway serves the satellite WebSocket route and feeds stats.
	Gateway SatelliteGateway

	// Auth guards the admin surface. Nil disables every /admin route.
	Auth *auth.Service

	// Admin surface stores.
	Profiles    profile.Store
	GuardEvents GuardEventStore
	Patterns    PatternStore
	Actions     *action.Registry
	Embedder    embeddings.Provider
	Models      *ModelSettings

	// Health serves /healthz and /readyz.
	Health *health.Handler

	// Metrics serves GET /metrics (the Prometheus exporter handler).
	Metrics http.Handler

	// Middleware wraps every route (request metrics, tracing).
	Middleware func(http.Handler) http.Handler
}

// SatelliteGateway is the satellite transport surface the server mounts.
type SatelliteGateway interface {
	http.Handler
	Connected() []string
}

// Server is the HTTP front end. Construct with New, mount via Router.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New constructs a Server over its collaborators.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:    deps,
		logger:  slog.Default(),
		started: time.Now(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if s.deps.Middleware != nil {
		r.Use(s.deps.Middleware)
	}

	r.Post("/v1/chat/completions", s.handleChat)
	if s.deps.Synth != nil {
		r.Post("/v1/audio/speech", s.handleSpeech)
	}
	if s.deps.Gateway != nil {
		r.Get("/satellite", s.deps.Gateway.ServeHTTP)
	}
	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.Healthz)
		r.Get("/readyz", s.deps.Health.Readyz)
	}
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	if s.deps.Auth != nil {
		r.Post("/admin/login", s.handleLogin)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.deps.Auth.RequireAuth)
			r.Get("/stats", s.handleStats)
			if s.deps.Profiles != nil {
				r.Get("/profiles", s.handleListProfiles)
				r.Post("/profiles", s.handleUpsertProfile)
				r.Get("/profiles/{id}", s.handleGetProfile)
				r.Delete("/profiles/{id}", s.handleDeleteProfile)
				r.Get("/profiles/{id}/parental", s.handleGetParental)
				r.Put("/profiles/{id}/parental", s.handleSetParental)
				if s.deps.Embedder != nil {
					r.Post("/voice/enroll", s.handleEnrollVoice)
				}
			}
			if s.deps.GuardEvents != nil {
				r.Get("/guardrail/events", s.handleGuardEvents)
			}
			if s.deps.Patterns != nil {
				r.Get("/patterns", s.handleListPatterns)
				r.Post("/patterns/{id}", s.handleTogglePattern)
			}
			if s.deps.Models != nil {
				r.Get("/models", s.handleGetModels)
				r.Put("/models", s.handleSetModels)
			}
		})
	}

	return r
}

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the API error envelope.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}

// decodeJSON decodes a bounded JSON body into req, reporting the 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
