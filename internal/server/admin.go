package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/internal/auth"
	"github.com/atlas-assistant/cortex/internal/profile"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// defaultEventLimit bounds the guardrail event listing.
const defaultEventLimit = 50

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, expires, err := s.deps.Auth.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserDisabled) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"started_at":     s.started.UTC().Format(time.RFC3339),
		"uptime_seconds": int(s.now().Sub(s.started).Seconds()),
	}
	if s.deps.Gateway != nil {
		stats["satellites"] = s.deps.Gateway.Connected()
	}
	if s.deps.Profiles != nil {
		if profiles, err := s.deps.Profiles.ListProfiles(r.Context()); err == nil {
			stats["profiles"] = len(profiles)
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

// profileJSON is the admin wire form of a profile.
type profileJSON struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	BirthYear      int               `json:"birth_year,omitempty"`
	PreferredVoice string            `json:"preferred_voice,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	CreatedAt      time.Time         `json:"created_at,omitzero"`
	UpdatedAt      time.Time         `json:"updated_at,omitzero"`
}

func toProfileJSON(p profile.Profile) profileJSON {
	return profileJSON{
		ID:             p.ID,
		Name:           p.Name,
		BirthYear:      p.BirthYear,
		PreferredVoice: p.PreferredVoice,
		Attributes:     p.Attributes,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.deps.Profiles.ListProfiles(r.Context())
	if err != nil {
		s.logger.Error("profile list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "profile listing failed")
		return
	}
	out := make([]profileJSON, len(profiles))
	for i, p := range profiles {
		out[i] = toProfileJSON(p)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, toProfileJSON(*p))
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req profileJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "id and name are required")
		return
	}
	p := profile.Profile{
		ID:             req.ID,
		Name:           req.Name,
		BirthYear:      req.BirthYear,
		PreferredVoice: req.PreferredVoice,
		Attributes:     req.Attributes,
	}
	if err := s.deps.Profiles.UpsertProfile(r.Context(), &p); err != nil {
		s.logger.Error("profile upsert failed", "id", req.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "profile upsert failed")
		return
	}
	respondJSON(w, http.StatusOK, toProfileJSON(p))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Profiles.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusInternalServerError, "profile delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type parentalJSON struct {
	AllowedDomains []string `json:"allowed_domains"`
	QuietStart     int      `json:"quiet_start"`
	QuietEnd       int      `json:"quiet_end"`
	ContentCeiling string   `json:"content_ceiling"`
}

func (s *Server) handleGetParental(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Profiles.GetParental(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "parental lookup failed")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "no parental controls configured")
		return
	}
	respondJSON(w, http.StatusOK, parentalJSON{
		AllowedDomains: c.AllowedDomains,
		QuietStart:     c.QuietStart,
		QuietEnd:       c.QuietEnd,
		ContentCeiling: c.ContentCeiling,
	})
}

func (s *Server) handleSetParental(w http.ResponseWriter, r *http.Request) {
	var req parentalJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	controls := profile.ParentalControls{
		ChildID:        chi.URLParam(r, "id"),
		AllowedDomains: req.AllowedDomains,
		QuietStart:     req.QuietStart,
		QuietEnd:       req.QuietEnd,
		ContentCeiling: req.ContentCeiling,
	}
	if err := s.deps.Profiles.SetParental(r.Context(), &controls); err != nil {
		s.logger.Error("parental update failed", "child", controls.ChildID, "error", err)
		respondError(w, http.StatusInternalServerError, "parental update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGuardEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.deps.GuardEvents.RecentEvents(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event listing failed")
		return
	}
	type eventJSON struct {
		ID        string    `json:"id"`
		SessionID string    `json:"session_id"`
		UserID    string    `json:"user_id,omitempty"`
		Direction string    `json:"direction"`
		Severity  string    `json:"severity"`
		Category  string    `json:"category"`
		Reason    string    `json:"reason,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]eventJSON, len(events))
	for i, ev := range events {
		out[i] = eventJSON{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			UserID:    ev.UserID,
			Direction: ev.Direction,
			Severity:  ev.Severity.String(),
			Category:  ev.Category,
			Reason:    ev.Reason,
			CreatedAt: ev.CreatedAt,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

type patternJSON struct {
	ID          string   `json:"id"`
	Patterns    []string `json:"patterns"`
	Handler     string   `json:"handler"`
	Integration string   `json:"integration,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Enabled     bool     `json:"enabled"`
	HitCount    int      `json:"hit_count"`
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	stored, err := s.deps.Patterns.ListActions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "pattern listing failed")
		return
	}
	out := make([]patternJSON, len(stored))
	for i, a := range stored {
		out[i] = patternJSON{
			ID:          a.ID,
			Patterns:    a.Patterns,
			Handler:     a.Handler,
			Integration: a.Integration,
			Domain:      a.Domain,
			Enabled:     a.Enabled,
			HitCount:    a.HitCount,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// handleTogglePattern flips a pattern and reloads the live registry so
// the change takes effect without a restart.
func (s *Server) handleTogglePattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Patterns.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, "pattern toggle failed")
		return
	}
	if s.deps.Actions != nil {
		if err := action.LoadRegistry(r.Context(), s.deps.Patterns, s.deps.Actions); err != nil {
			s.logger.Error("action registry reload failed", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnrollVoice stores a speaker fingerprint. The caller supplies
// either the embedding directly or a transcript sample to embed.
func (s *Server) handleEnrollVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string    `json:"user_id"`
		SampleText string    `json:"sample_text"`
		Embedding  []float32 `json:"embedding"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	embedding := req.Embedding
	if len(embedding) == 0 {
		if req.SampleText == "" {
			respondError(w, http.StatusBadRequest, "sample_text or embedding is required")
			return
		}
		var err error
		embedding, err = s.deps.Embedder.Embed(r.Context(), req.SampleText)
		if err != nil {
			s.logger.Error("voice sample embed failed", "user", req.UserID, "error", err)
			respondError(w, http.StatusBadGateway, "embedding failed")
			return
		}
	}
	err := s.deps.Profiles.EnrollSpeaker(r.Context(), profile.SpeakerPrint{
		UserID:    req.UserID,
		Embedding: embedding,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "enrolment failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":    req.UserID,
		"dimensions": len(embedding),
	})
}

func (s *Server) handleGetModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Models.Snapshot())
}

func (s *Server) handleSetModels(w http.ResponseWriter, r *http.Request) {
	var req map[types.Role]string
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Models.Set(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Models.Snapshot())
}
