// Package types defines the shared types used across all Atlas Cortex packages.
//
// These types form the lingua franca between channels, the pipeline layers,
// providers, and the memory stores. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Channel identifies the transport a turn arrived on.
type Channel string

const (
	// ChannelAPI is the OpenAI-compatible HTTP API.
	ChannelAPI Channel = "api"

	// ChannelSatellite is the WebSocket voice-satellite gateway.
	ChannelSatellite Channel = "satellite"

	// ChannelDiscord is the Discord text-channel bridge.
	ChannelDiscord Channel = "discord"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelAPI, ChannelSatellite, ChannelDiscord:
		return true
	}
	return false
}

// MatchedLayer records which pipeline layer resolved a turn. Exactly one
// layer resolves every turn.
type MatchedLayer string

const (
	// LayerInstant means the L1 instant resolver answered without a model call.
	LayerInstant MatchedLayer = "instant"

	// LayerAction means the L2 action registry dispatched a direct action.
	LayerAction MatchedLayer = "action"

	// LayerLLM means the L3 generation orchestrator produced the response.
	LayerLLM MatchedLayer = "llm"

	// LayerBlocked means guardrails stopped the turn before generation.
	LayerBlocked MatchedLayer = "blocked"
)

// IsValid reports whether m is a recognised layer.
func (m MatchedLayer) IsValid() bool {
	switch m {
	case LayerInstant, LayerAction, LayerLLM, LayerBlocked:
		return true
	}
	return false
}

// Turn is a single user request entering the pipeline, normalised across
// channels. Voice turns carry the corrected transcript as Text.
type Turn struct {
	// ID uniquely identifies this turn (UUID).
	ID string

	// Channel is the transport the turn arrived on.
	Channel Channel

	// SessionID groups turns into a conversation.
	SessionID string

	// SpeakerID is the channel-level speaker hint (API extension field,
	// satellite voice match, or Discord user ID). Empty when unknown —
	// identity resolution decides the effective user.
	SpeakerID string

	// SatelliteID identifies the originating satellite for voice turns.
	SatelliteID string

	// AreaHint is an optional caller-supplied area override.
	AreaHint string

	// Text is the user's message after transcript correction.
	Text string

	// RoleHint selects the generation model slot. Set by the API channel
	// from the request's model field; empty means the default slot.
	RoleHint Role

	// Temperature passes through to generation when non-zero (API channel).
	Temperature float64

	// ReceivedAt is when the turn entered the pipeline.
	ReceivedAt time.Time
}

// Role selects a model slot in the provider registry. Each role has an
// ordered candidate list and its own health cadence.
type Role string

const (
	RoleFast       Role = "fast"
	RoleStandard   Role = "standard"
	RoleThinking   Role = "thinking"
	RoleEmbed      Role = "embed"
	RoleTTS        Role = "tts"
	RoleTranscribe Role = "transcribe"
)

// IsValid reports whether r is a recognised provider role.
func (r Role) IsValid() bool {
	switch r {
	case RoleFast, RoleStandard, RoleThinking, RoleEmbed, RoleTTS, RoleTranscribe:
		return true
	}
	return false
}

// Message represents a single message in a model conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker households).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool offered to the model or registered as an
// action handler by an integration.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// EstimatedDurationMs is the declared p50 latency.
	EstimatedDurationMs int

	// MaxDurationMs is the declared p99 upper bound, used as a hard timeout.
	MaxDurationMs int

	// Idempotent indicates whether the tool can be safely retried.
	Idempotent bool
}

// ModelCapabilities describes what a model backend supports. Registry
// candidates advertise these so callers can pick a capable provider.
type ModelCapabilities struct {
	// ContextWindow is the maximum total tokens (prompt + completion).
	ContextWindow int

	// MaxOutputTokens is the provider's per-response generation cap.
	MaxOutputTokens int

	// SupportsToolCalling indicates function/tool call support.
	SupportsToolCalling bool

	// SupportsStreaming indicates incremental token output.
	SupportsStreaming bool

	// SupportsThinking indicates an extended-reasoning mode.
	SupportsThinking bool

	// SupportsEmbeddings indicates the backend can embed text.
	SupportsEmbeddings bool

	// SupportsEmotion indicates the TTS backend accepts emotion directives.
	SupportsEmotion bool

	// SupportsPhonemes indicates the TTS backend emits timed phoneme events.
	SupportsPhonemes bool
}

// AudioFrame represents a single frame of PCM audio flowing through the
// satellite gateway or the speech endpoint.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz (16000 for satellite capture, 22050 for TTS output).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback formats.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from a transcribe provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final or interim transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// SpeakerID identifies the speaker when voice identification is active.
	SpeakerID string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from transcribe providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost biases recognition towards an uncommon word. Used for
// household vocabulary that generic acoustic models miss: device names, area
// names, family member names.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "Sonnenallee", "Aoife").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// VoiceProfile specifies a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the TTS backend this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64

	// Metadata holds provider-specific settings (stability, style, ...).
	Metadata map[string]string
}

// PhonemeEvent is a single timed phoneme emitted alongside synthesised audio
// when the TTS backend supports phoneme output.
type PhonemeEvent struct {
	// StartMs is the phoneme onset relative to the start of the clip.
	StartMs int

	// EndMs is the phoneme end relative to the start of the clip.
	EndMs int

	// ID is the phoneme identifier (IPA or provider-specific set).
	ID string
}

// Sentiment is the fast lexical classification of a user turn.
type Sentiment struct {
	// Polarity is in [-1, 1]: negative to positive.
	Polarity float64

	// Arousal is in [0, 1]: calm to agitated.
	Arousal float64

	// Label is the coarse bucket: "negative", "neutral", or "positive".
	Label string
}

// Emotion is a voice-direction hint passed to the TTS bridge.
type Emotion struct {
	// Name is the emotion label (e.g. "warm", "apologetic", "excited").
	Name string

	// Intensity is in [0, 1].
	Intensity float64
}
