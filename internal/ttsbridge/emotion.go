package ttsbridge

import (
	"fmt"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Directive is the voice-direction output of the emotion composer, shaped
// to what the backend can act on. At most one of Emotion and Direction is
// set; both empty means the reply is delivered neutrally.
type Directive struct {
	// Emotion is set for backends that accept structured emotion
	// directives (voice settings, inline tags).
	Emotion *types.Emotion

	// Direction is a natural-language delivery note for backends that
	// condition on a text prompt but have no emotion parameter. It is
	// prepended to the synthesis text.
	Direction string
}

// directionCapable reports whether a voice accepts a natural-language
// delivery note. Prompt-conditioned backends opt in through voice
// metadata; sending a note to anything else would be read aloud.
func directionCapable(voice types.VoiceProfile) bool {
	return voice.Metadata["accepts_direction"] == "true"
}

// ComposeEmotion maps a turn's sentiment onto a delivery directive for
// the given backend. Neutral sentiment composes nothing regardless of
// capability.
func ComposeEmotion(s types.Sentiment, caps types.ModelCapabilities, voice types.VoiceProfile) Directive {
	name, intensity := emotionFor(s)
	if name == "" {
		return Directive{}
	}
	if caps.SupportsEmotion {
		return Directive{Emotion: &types.Emotion{Name: name, Intensity: intensity}}
	}
	if directionCapable(voice) {
		return Directive{Direction: fmt.Sprintf("(spoken in a %s tone) ", name)}
	}
	return Directive{}
}

// emotionFor picks an emotion label and intensity from polarity and
// arousal. The bands are deliberately coarse: delivery shading should be
// felt, not noticed.
func emotionFor(s types.Sentiment) (string, float64) {
	intensity := clamp(abs(s.Polarity)+0.3*s.Arousal, 0, 1)
	switch {
	case s.Polarity >= 0.3 && s.Arousal >= 0.6:
		return "excited", intensity
	case s.Polarity >= 0.3:
		return "warm", intensity
	case s.Polarity <= -0.3 && s.Arousal >= 0.6:
		return "calming", intensity
	case s.Polarity <= -0.3:
		return "gentle", intensity
	}
	return "", 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
