package memory

import (
	"context"
	"time"
)

// Interaction is one completed request/response pair as written to the
// interaction log by the pipeline. The log is the source of truth for COLD
// extraction replay, analytics, and the recent-turn window of context
// assembly.
type Interaction struct {
	// ID identifies the interaction.
	ID string

	// UserID is the resolved speaker, or empty for anonymous.
	UserID string

	// SessionID groups interactions into a conversation.
	SessionID string

	// Channel records the ingress surface (api, satellite, discord).
	Channel string

	// SatelliteID is set for satellite-originated interactions.
	SatelliteID string

	// Input is the user utterance after transcript correction.
	Input string

	// Response is the final delivered assistant text.
	Response string

	// MatchedLayer records which pipeline layer produced the response:
	// instant, action, llm, or blocked.
	MatchedLayer string

	// Latency is end-to-end processing time.
	Latency time.Duration

	// CreatedAt is when the interaction completed.
	CreatedAt time.Time
}

// InteractionStore persists the interaction log.
type InteractionStore interface {
	// Append writes one completed interaction.
	Append(ctx context.Context, in Interaction) error

	// Recent returns the newest interactions for a session, newest first,
	// up to limit.
	Recent(ctx context.Context, sessionID string, limit int) ([]Interaction, error)
}
