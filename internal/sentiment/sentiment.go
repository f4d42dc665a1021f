// Package sentiment provides a small lexicon-based sentiment analyser used to
// shade TTS delivery and track per-user emotional state. It trades accuracy
// for latency: analysis is a single pass over the token stream with no model
// call, so it can run on every utterance in the hot path.
package sentiment

import (
	"strings"
	"unicode"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Analyzer scores text on two axes: polarity (negative..positive, [-1, 1])
// and arousal (calm..agitated, [0, 1]). It is stateless and safe for
// concurrent use.
type Analyzer struct {
	positive map[string]float64
	negative map[string]float64
	arousing map[string]float64
}

// New constructs an Analyzer with the default English lexicon.
func New() *Analyzer {
	return &Analyzer{
		positive: map[string]float64{
			"good": 0.5, "great": 0.8, "love": 0.9, "like": 0.4, "happy": 0.8,
			"wonderful": 0.9, "awesome": 0.9, "nice": 0.5, "thanks": 0.6,
			"thank": 0.6, "perfect": 0.9, "excellent": 0.9, "glad": 0.7,
			"fun": 0.6, "excited": 0.7, "amazing": 0.9, "cool": 0.5,
			"better": 0.4, "best": 0.7, "yay": 0.8, "pleased": 0.6,
		},
		negative: map[string]float64{
			"bad": 0.5, "terrible": 0.9, "hate": 0.9, "awful": 0.9,
			"sad": 0.7, "angry": 0.8, "annoyed": 0.6, "annoying": 0.6,
			"broken": 0.5, "wrong": 0.4, "worse": 0.5, "worst": 0.8,
			"tired": 0.4, "exhausted": 0.6, "stressed": 0.7, "upset": 0.7,
			"frustrated": 0.7, "horrible": 0.9, "useless": 0.7, "stupid": 0.7,
			"sick": 0.5, "hurt": 0.6, "scared": 0.7, "worried": 0.6,
		},
		arousing: map[string]float64{
			"now": 0.3, "hurry": 0.7, "quick": 0.5, "emergency": 1,
			"urgent": 0.9, "immediately": 0.7, "help": 0.6, "stop": 0.5,
			"fire": 0.9, "excited": 0.6, "furious": 0.9, "panic": 1,
			"amazing": 0.5, "terrible": 0.5, "hate": 0.5, "love": 0.4,
		},
	}
}

// negators flip the polarity of the following sentiment word.
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "dont": true,
	"can't": true, "cant": true, "won't": true, "wont": true, "isn't": true,
	"isnt": true, "didn't": true, "didnt": true, "hardly": true,
}

// Analyze scores text and returns a Sentiment. Neutral text scores zero
// polarity with the "neutral" label.
func (a *Analyzer) Analyze(text string) types.Sentiment {
	tokens := tokenize(text)

	var polarity, arousal float64
	var hits int
	negated := false
	for _, tok := range tokens {
		if negators[tok] {
			negated = true
			continue
		}

		var score float64
		if v, ok := a.positive[tok]; ok {
			score = v
		} else if v, ok := a.negative[tok]; ok {
			score = -v
		}
		if score != 0 {
			if negated {
				score = -score * 0.8
			}
			polarity += score
			hits++
		}
		if v, ok := a.arousing[tok]; ok {
			arousal += v
		}
		negated = false
	}

	if hits > 0 {
		polarity /= float64(hits)
	}
	// Exclamation marks and shouting raise arousal even without lexicon hits.
	arousal += 0.15 * float64(strings.Count(text, "!"))
	if isShouting(text) {
		arousal += 0.3
	}

	return types.Sentiment{
		Polarity: clamp(polarity, -1, 1),
		Arousal:  clamp(arousal, 0, 1),
		Label:    label(clamp(polarity, -1, 1)),
	}
}

// label buckets a polarity score. The thresholds leave a wide neutral band so
// mild wording doesn't flip delivery style.
func label(polarity float64) string {
	switch {
	case polarity > 0.2:
		return "positive"
	case polarity < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// isShouting reports whether text is mostly upper-case letters.
func isShouting(text string) bool {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 6 && float64(upper) > 0.8*float64(letters)
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
