package profile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Voice-match thresholds. A cosine score at or above accept is a confident
// match; scores in [lowConfidence, accept) are accepted with the
// LowConfidence flag set (which forces the strict tier downstream).
const (
	voiceMatchAccept        = 0.85
	voiceMatchLowConfidence = 0.5
)

// Identity is the per-turn resolution result.
type Identity struct {
	// UserID is the resolved user, or "" for an anonymous guest.
	UserID string

	// Profile is the matched profile; nil for guests.
	Profile *Profile

	// Confidence is the resolution confidence in [0, 1]. Session pins are
	// 1.0; voice matches carry the cosine score; guests are 0.
	Confidence float64

	// Method is "session", "voice", or "guest".
	Method string

	// LowConfidence marks a voice match in the accept-with-caution band.
	LowConfidence bool
}

// Tier returns the policy tier for this identity at time now.
func (id Identity) Tier(now time.Time) Tier {
	return PolicyTier(id.Profile.Band(now), id.Confidence)
}

// Resolver resolves speaker identity per turn. Safe for concurrent use.
type Resolver struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	pins map[string]string // session id → user id
}

// NewResolver constructs a Resolver backed by the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		pins:   make(map[string]string),
	}
}

// Pin binds a session to a user id; subsequent turns in the session resolve
// to that user without a voice match.
func (r *Resolver) Pin(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[sessionID] = userID
}

// Unpin removes a session binding.
func (r *Resolver) Unpin(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, sessionID)
}

// Resolve determines who is speaking. speakerHint is a channel-level claim
// (API extension field or Discord user id) treated as a session pin;
// voiceEmbedding is the utterance fingerprint, nil for text turns.
func (r *Resolver) Resolve(ctx context.Context, sessionID, speakerHint string, voiceEmbedding []float32) (Identity, error) {
	// (a) session-pinned user.
	r.mu.RLock()
	pinned := r.pins[sessionID]
	r.mu.RUnlock()
	if pinned == "" {
		pinned = speakerHint
	}
	if pinned != "" {
		p, err := r.store.GetProfile(ctx, pinned)
		if err != nil {
			return Identity{}, fmt.Errorf("profile: resolve pinned %q: %w", pinned, err)
		}
		if p != nil {
			return Identity{UserID: p.ID, Profile: p, Confidence: 1, Method: "session"}, nil
		}
		// A stale pin falls through to the remaining stages.
		r.logger.Warn("profile: pinned user not found", "user_id", pinned)
	}

	// (b)/(c) voice fingerprint.
	if len(voiceEmbedding) > 0 {
		id, ok, err := r.matchVoice(ctx, voiceEmbedding)
		if err != nil {
			return Identity{}, err
		}
		if ok {
			return id, nil
		}
	}

	// (d) anonymous guest.
	return Identity{Method: "guest"}, nil
}

// matchVoice finds the best cosine match among enrolled speaker prints.
func (r *Resolver) matchVoice(ctx context.Context, embedding []float32) (Identity, bool, error) {
	prints, err := r.store.SpeakerPrints(ctx)
	if err != nil {
		return Identity{}, false, fmt.Errorf("profile: load speaker prints: %w", err)
	}

	bestScore := 0.0
	bestUser := ""
	for _, p := range prints {
		if s := cosine(embedding, p.Embedding); s > bestScore {
			bestScore = s
			bestUser = p.UserID
		}
	}
	if bestUser == "" || bestScore < voiceMatchLowConfidence {
		return Identity{}, false, nil
	}

	prof, err := r.store.GetProfile(ctx, bestUser)
	if err != nil {
		return Identity{}, false, fmt.Errorf("profile: resolve voice match %q: %w", bestUser, err)
	}
	if prof == nil {
		return Identity{}, false, nil
	}
	return Identity{
		UserID:        prof.ID,
		Profile:       prof,
		Confidence:    bestScore,
		Method:        "voice",
		LowConfidence: bestScore < voiceMatchAccept,
	}, true, nil
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// empty or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
