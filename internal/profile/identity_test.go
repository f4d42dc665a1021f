package profile

import (
	"context"
	"testing"
)

func seedProfiles(t *testing.T) *MemStore {
	t.Helper()
	store := NewMemStore()
	ctx := context.Background()

	for _, p := range []Profile{
		{ID: "u-ana", Name: "Ana", BirthYear: 1988},
		{ID: "u-tom", Name: "Tom", BirthYear: 2015},
	} {
		cp := p
		if err := store.UpsertProfile(ctx, &cp); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}

	// Orthogonal fingerprints so cosine scores are unambiguous.
	if err := store.EnrollSpeaker(ctx, SpeakerPrint{UserID: "u-ana", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("enroll ana: %v", err)
	}
	if err := store.EnrollSpeaker(ctx, SpeakerPrint{UserID: "u-tom", Embedding: []float32{0, 1, 0}}); err != nil {
		t.Fatalf("enroll tom: %v", err)
	}
	return store
}

func TestResolve_SessionPinWins(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)
	r.Pin("sess-1", "u-ana")

	// Voice evidence points at Tom, but the pin wins.
	id, err := r.Resolve(context.Background(), "sess-1", "", []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-ana" || id.Method != "session" {
		t.Fatalf("id = %+v, want pinned u-ana via session", id)
	}
	if id.Confidence != 1 {
		t.Errorf("pinned confidence = %f, want 1", id.Confidence)
	}
}

func TestResolve_VoiceMatchConfident(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)

	id, err := r.Resolve(context.Background(), "sess-2", "", []float32{0, 0.99, 0.01})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-tom" || id.Method != "voice" {
		t.Fatalf("id = %+v, want voice match u-tom", id)
	}
	if id.LowConfidence {
		t.Error("near-exact match should not be low confidence")
	}
	if id.Confidence < voiceMatchAccept {
		t.Errorf("confidence = %f, want >= %f", id.Confidence, voiceMatchAccept)
	}
}

func TestResolve_VoiceMatchLowConfidenceBand(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)

	// cos with (1,0,0) = 0.8 — inside [0.5, 0.85) but above the 0.6 tier floor.
	id, err := r.Resolve(context.Background(), "sess-3", "", []float32{0.8, 0.6, 0})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-ana" {
		t.Fatalf("id = %+v, want u-ana", id)
	}
	if !id.LowConfidence {
		t.Error("score in [0.5, 0.85) must set LowConfidence")
	}
	// 0.8 clears the 0.6 floor, so the adult keeps the standard tier.
	if tier := id.Tier(testNow); tier != TierStandard {
		t.Errorf("tier = %q, want standard at confidence 0.8", tier)
	}

	// A match below the 0.6 floor is still accepted but forces strict.
	id, err = r.Resolve(context.Background(), "sess-3b", "", []float32{0.55, 0.2, 0.81})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-ana" || !id.LowConfidence {
		t.Fatalf("id = %+v, want low-confidence u-ana", id)
	}
	if tier := id.Tier(testNow); tier != TierStrict {
		t.Errorf("tier = %q, want strict below the confidence floor", tier)
	}
}

func TestResolve_NoMatchIsGuest(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)

	// Orthogonal to everything enrolled.
	id, err := r.Resolve(context.Background(), "sess-4", "", []float32{0, 0, 1})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Method != "guest" || id.UserID != "" {
		t.Fatalf("id = %+v, want anonymous guest", id)
	}
	if tier := id.Tier(testNow); tier != TierStrict {
		t.Errorf("guest tier = %q, want strict", tier)
	}
}

func TestResolve_TextTurnWithoutHintIsGuest(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)

	id, err := r.Resolve(context.Background(), "sess-5", "", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Method != "guest" {
		t.Fatalf("id = %+v, want guest", id)
	}
}

func TestResolve_SpeakerHintActsAsPin(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)

	id, err := r.Resolve(context.Background(), "sess-6", "u-tom", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-tom" || id.Method != "session" {
		t.Fatalf("id = %+v, want u-tom via hint", id)
	}
}

func TestResolve_StalePinFallsThrough(t *testing.T) {
	t.Parallel()

	store := seedProfiles(t)
	r := NewResolver(store, nil)
	r.Pin("sess-7", "u-deleted")

	id, err := r.Resolve(context.Background(), "sess-7", "", []float32{0.99, 0.01, 0})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "u-ana" || id.Method != "voice" {
		t.Fatalf("id = %+v, want fall-through to voice match", id)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := cosine(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosine(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
