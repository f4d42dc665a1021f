// Package profile manages household user identities: who is speaking, how
// old they are, which policy tier applies, and the per-user emotional state
// that shades the assistant's delivery.
//
// Identity is resolved per turn in priority order — session pin, voice
// fingerprint, anonymous guest — and every downstream consumer (guardrails,
// action policy, TTS emotion) works from the resulting [Identity] snapshot.
package profile

import (
	"context"
	"time"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// AgeBand buckets a user's age for policy decisions.
type AgeBand string

const (
	BandChild   AgeBand = "child"   // 0–12
	BandTeen    AgeBand = "teen"    // 13–17
	BandAdult   AgeBand = "adult"   // 18+
	BandUnknown AgeBand = "unknown" // no birth year on record
)

// Tier is the content-policy strictness applied to a user's turns.
type Tier string

const (
	TierStrict   Tier = "strict"
	TierModerate Tier = "moderate"
	TierStandard Tier = "standard"
)

// identityConfidenceFloor: at or below this, the policy tier is forced to
// strict regardless of the profile's age band. The speaker must clear the
// floor to be trusted with their own tier.
const identityConfidenceFloor = 0.6

// Rapport dynamics.
const (
	// rapportStep scales the per-interaction rapport adjustment by
	// sentiment polarity.
	rapportStep = 0.01

	// RapportDecayPerDay is subtracted from rapport for each day without
	// interaction (applied by the scheduler).
	RapportDecayPerDay = 0.005

	// rapportDefault seeds new emotional profiles.
	rapportDefault = 0.5
)

// Profile is a known household member.
type Profile struct {
	// ID is the stable user id (UUID).
	ID string

	// Name is the display name used in prompts and admin surfaces.
	Name string

	// BirthYear determines the age band; 0 means unknown.
	BirthYear int

	// PreferredVoice is the TTS voice id for replies to this user, if set.
	PreferredVoice string

	// Attributes holds free-form profile settings.
	Attributes map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Band returns the profile's age band as of now.
func (p *Profile) Band(now time.Time) AgeBand {
	if p == nil || p.BirthYear <= 0 {
		return BandUnknown
	}
	age := now.Year() - p.BirthYear
	switch {
	case age <= 12:
		return BandChild
	case age <= 17:
		return BandTeen
	default:
		return BandAdult
	}
}

// PolicyTier maps an age band and identity confidence to a policy tier.
// Child and unknown users are always strict; any identity at or below the
// confidence floor is strict regardless of age.
func PolicyTier(band AgeBand, identityConfidence float64) Tier {
	if identityConfidence <= identityConfidenceFloor {
		return TierStrict
	}
	switch band {
	case BandTeen:
		return TierModerate
	case BandAdult:
		return TierStandard
	default:
		return TierStrict
	}
}

// EmotionalState is the per-user rapport tracker.
type EmotionalState struct {
	UserID string

	// Rapport is in [0, 1]; higher means warmer delivery.
	Rapport float64

	// LastInteraction is when rapport was last adjusted.
	LastInteraction time.Time
}

// Adjust applies one interaction's sentiment to the rapport scalar and
// clamps the result.
func (e *EmotionalState) Adjust(s types.Sentiment, at time.Time) {
	e.Rapport += rapportStep * s.Polarity
	if e.Rapport < 0 {
		e.Rapport = 0
	}
	if e.Rapport > 1 {
		e.Rapport = 1
	}
	e.LastInteraction = at
}

// ParentalControls restricts what a child profile can do.
type ParentalControls struct {
	ChildID string

	// AllowedDomains lists action domains the child may trigger
	// (e.g. "light", "media"). Empty means no actions allowed.
	AllowedDomains []string

	// QuietStart/QuietEnd bound the hours (0–23) during which the child may
	// use the assistant at all. Equal values mean no quiet hours.
	QuietStart int
	QuietEnd   int

	// ContentCeiling caps content maturity ("child", "teen").
	ContentCeiling string

	UpdatedAt time.Time
}

// AllowsDomain reports whether the controls permit an action domain.
func (c *ParentalControls) AllowsDomain(domain string) bool {
	if c == nil {
		return true
	}
	for _, d := range c.AllowedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// InQuietHours reports whether t falls inside the configured quiet window.
// The window may wrap midnight (e.g. 21–7).
func (c *ParentalControls) InQuietHours(t time.Time) bool {
	if c == nil || c.QuietStart == c.QuietEnd {
		return false
	}
	h := t.Hour()
	if c.QuietStart < c.QuietEnd {
		return h >= c.QuietStart && h < c.QuietEnd
	}
	return h >= c.QuietStart || h < c.QuietEnd
}

// SpeakerPrint is an enrolled voice fingerprint.
type SpeakerPrint struct {
	UserID     string
	Embedding  []float32
	EnrolledAt time.Time
}

// Store persists profiles, speaker prints, emotional state, and parental
// controls. Implementations: [PostgresStore], [MemStore].
type Store interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context) ([]Profile, error)

	EnrollSpeaker(ctx context.Context, print SpeakerPrint) error
	SpeakerPrints(ctx context.Context) ([]SpeakerPrint, error)

	GetEmotional(ctx context.Context, userID string) (*EmotionalState, error)
	SaveEmotional(ctx context.Context, state *EmotionalState) error
	// DecayRapport applies the daily decay to all emotional profiles whose
	// last interaction is older than a day; returns rows affected.
	DecayRapport(ctx context.Context) (int64, error)

	GetParental(ctx context.Context, childID string) (*ParentalControls, error)
	SetParental(ctx context.Context, controls *ParentalControls) error
}
