// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, a local
// Coqui instance) and presents a uniform streaming interface. The primary
// entry point is SynthesizeStream, which accepts a channel of text fragments
// and returns a channel of raw PCM audio bytes as they become available —
// enabling low-latency pipelining between streaming generation and satellite
// playback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., several satellites speaking at once).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. This design allows the caller to pipe streaming generation
	// output directly into synthesis without waiting for the full text.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// req.Voice.ID must be set; providers return an error if the voice is
	// not available. Emotion and speed directives in req are applied when the
	// provider's capabilities allow and ignored otherwise.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, req SynthesisRequest) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile named name by training on the
	// supplied audio samples. Each element of samples must be raw PCM or a
	// provider-supported encoded format (e.g., WAV, MP3).
	//
	// This is an expensive operation and must not be called in the hot path.
	// Returns the newly created profile with a provider-assigned ID, or an
	// error. Providers without cloning support return an error. An empty
	// samples slice returns an error rather than panicking.
	CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error)

	// Capabilities reports what this backend supports. Callers use
	// SupportsEmotion and SupportsPhonemes to decide how much delivery
	// shaping to request.
	Capabilities() types.ModelCapabilities
}
