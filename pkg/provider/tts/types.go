package tts

import (
	"context"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// SynthesisRequest bundles everything a provider needs to voice one response.
type SynthesisRequest struct {
	// Voice selects the synthesis voice. Voice.ID must be set.
	Voice types.VoiceProfile

	// Emotion, when non-nil and the provider reports SupportsEmotion, shades
	// the delivery. Providers without emotion support ignore it.
	Emotion *types.Emotion

	// SpeedFactor overrides Voice.SpeedFactor when non-zero. Range [0.5, 2.0].
	SpeedFactor float64
}

// Speed resolves the effective speaking rate for the request. Zero means the
// provider default.
func (r SynthesisRequest) Speed() float64 {
	if r.SpeedFactor != 0 {
		return r.SpeedFactor
	}
	return r.Voice.SpeedFactor
}

// Chunk is one unit of synthesised output from a phoneme-capable stream:
// raw PCM audio plus the timed phonemes covering it.
type Chunk struct {
	// Audio is raw PCM, 16-bit little-endian.
	Audio []byte

	// Phonemes are the timed phoneme events for this chunk, if the provider
	// emits them. Empty otherwise.
	Phonemes []types.PhonemeEvent
}

// PhonemeStreamer is implemented by providers that can emit timed phoneme
// events alongside audio, used to drive satellite mouth and LED animation.
// Callers should type-assert and fall back to plain SynthesizeStream when
// the assertion fails or Capabilities reports SupportsPhonemes false.
type PhonemeStreamer interface {
	SynthesizeStreamWithPhonemes(ctx context.Context, text <-chan string, req SynthesisRequest) (<-chan Chunk, error)
}
