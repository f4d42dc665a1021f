// Package ttsbridge turns generated text into speech.
//
// The bridge sits between the pipeline and a tts.Provider: generation
// events are re-chunked at sentence boundaries so sentence N plays while
// N+1 synthesises, the emotion composer shades delivery to the backend's
// capability, night mode softens the voice after hours, and occasional
// paralingual sounds keep long replies from feeling read out.
//
// Filler events are not synthesised here — satellites play their cached
// filler clips on PLAY_FILLER, which beats any round trip.
package ttsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/pkg/provider/tts"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const (
	// textBuf absorbs several sentences so a slow synthesiser does not
	// stall the generation reader.
	textBuf = 16

	// nightSpeedFactor slows delivery after hours.
	nightSpeedFactor = 0.9

	// nightIntensityFactor damps emotional shading after hours.
	nightIntensityFactor = 0.5

	// paralingualOdds is the denominator of the injection chance at each
	// eligible sentence boundary.
	paralingualOdds = 3
)

// defaultParalinguals are brief acknowledgement sounds slipped between
// sentences of longer replies. Trailing spaces keep synthesis joins clean.
var defaultParalinguals = []string{"Mm-hm. ", "Right. ", "Okay. "}

// Schedule is a daily hour range. Start after End wraps past midnight
// (22→7 means 22:00 through 06:59). A zero Schedule never activates.
type Schedule struct {
	StartHour int
	EndHour   int
}

// Active reports whether t falls inside the schedule.
func (s Schedule) Active(t time.Time) bool {
	if s.StartHour == s.EndHour {
		return false
	}
	h := t.Hour()
	if s.StartHour < s.EndHour {
		return h >= s.StartHour && h < s.EndHour
	}
	return h >= s.StartHour || h < s.EndHour
}

// Bridge synthesises replies through a TTS backend with sentence
// pipelining, emotion shading and night mode. Safe for concurrent use;
// each call runs an independent synthesis stream.
type Bridge struct {
	synth        tts.Provider
	voice        types.VoiceProfile
	nightVoice   *types.VoiceProfile
	night        Schedule
	paralinguals []string
	logger       *slog.Logger

	now      func() time.Time
	randIntN func(int) int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithNightMode activates softer delivery inside the schedule.
func WithNightMode(s Schedule) Option {
	return func(b *Bridge) { b.night = s }
}

// WithNightVoice substitutes a dedicated voice during night mode.
func WithNightVoice(v types.VoiceProfile) Option {
	return func(b *Bridge) { b.nightVoice = &v }
}

// WithParalinguals replaces the acknowledgement sound pool. An empty
// slice disables injection.
func WithParalinguals(p []string) Option {
	return func(b *Bridge) { b.paralinguals = p }
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New constructs a Bridge voicing replies with the given default voice.
func New(synth tts.Provider, voice types.VoiceProfile, opts ...Option) *Bridge {
	b := &Bridge{
		synth:        synth,
		voice:        voice,
		paralinguals: defaultParalinguals,
		logger:       slog.Default(),
		now:          time.Now,
		randIntN:     rand.IntN,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// request builds the synthesis request for one utterance, applying night
// adjustments when the schedule is active.
func (b *Bridge) request(d Directive) tts.SynthesisRequest {
	req := tts.SynthesisRequest{Voice: b.voice, Emotion: d.Emotion}
	if !b.night.Active(b.now()) {
		return req
	}
	if b.nightVoice != nil {
		req.Voice = *b.nightVoice
	}
	speed := req.Voice.SpeedFactor
	if speed == 0 {
		speed = 1
	}
	req.SpeedFactor = speed * nightSpeedFactor
	if req.Emotion != nil {
		e := *req.Emotion
		e.Intensity *= nightIntensityFactor
		req.Emotion = &e
	}
	return req
}

// Speak voices one short complete reply — the canned acknowledgements the
// instant and action layers produce. No paralinguals, single stream write.
func (b *Bridge) Speak(ctx context.Context, text string, s types.Sentiment) (<-chan []byte, error) {
	d := ComposeEmotion(s, b.synth.Capabilities(), b.voice)
	textCh := make(chan string, 1)
	textCh <- d.Direction + text
	close(textCh)
	audio, err := b.synth.SynthesizeStream(ctx, textCh, b.request(d))
	if err != nil {
		return nil, fmt.Errorf("ttsbridge: start synthesis: %w", err)
	}
	return audio, nil
}

// Stream pipes generation events into synthesis at sentence granularity.
// The returned audio channel closes when generation ends or ctx is
// cancelled; the caller must drain it.
func (b *Bridge) Stream(ctx context.Context, events <-chan orchestrator.Event, s types.Sentiment) (<-chan []byte, error) {
	d := ComposeEmotion(s, b.synth.Capabilities(), b.voice)
	textCh := make(chan string, textBuf)
	audio, err := b.synth.SynthesizeStream(ctx, textCh, b.request(d))
	if err != nil {
		return nil, fmt.Errorf("ttsbridge: start synthesis: %w", err)
	}
	go b.forward(ctx, events, textCh, d.Direction)
	return audio, nil
}

// forward re-chunks generation events into complete sentences, injecting
// a paralingual at eligible boundaries. A paralingual is only considered
// when another sentence is about to follow, so single-sentence replies
// and reply tails never get one, and two can never run consecutively.
func (b *Bridge) forward(ctx context.Context, events <-chan orchestrator.Event, textCh chan<- string, direction string) {
	defer close(textCh)

	var buf strings.Builder
	buf.WriteString(direction)
	sent := 0
	lastParalingual := false

	emit := func(text string) bool {
		select {
		case textCh <- text:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range events {
		if ev.Filler {
			continue
		}
		if ev.Err != nil {
			b.logger.Warn("generation error during synthesis", "error", ev.Err)
			break
		}
		if ev.Text != "" {
			buf.WriteString(ev.Text)
		}

		for {
			idx := firstSentenceBoundary(buf.String())
			if idx < 0 {
				break
			}
			sentence := buf.String()[:idx+1]
			rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
			buf.Reset()
			buf.WriteString(rest)

			if sent > 0 && !lastParalingual && len(b.paralinguals) > 0 &&
				b.randIntN(paralingualOdds) == 0 {
				if !emit(b.paralinguals[b.randIntN(len(b.paralinguals))]) {
					return
				}
				lastParalingual = true
			} else {
				lastParalingual = false
			}

			if !emit(sentence + " ") {
				return
			}
			sent++
		}
	}

	if buf.Len() > 0 && buf.String() != direction {
		emit(buf.String())
	}
}

// Synthesize renders a complete utterance in one call, returning the raw
// PCM audio and, when requested and supported, the timed phoneme track.
// This backs the speech endpoint; streaming callers should use Stream.
func (b *Bridge) Synthesize(ctx context.Context, text string, s types.Sentiment, includePhonemes bool) ([]byte, []types.PhonemeEvent, error) {
	return b.SynthesizeVoice(ctx, "", text, s, includePhonemes)
}

// SynthesizeVoice is Synthesize with a voice id override. An empty id
// uses the configured voice.
func (b *Bridge) SynthesizeVoice(ctx context.Context, voiceID, text string, s types.Sentiment, includePhonemes bool) ([]byte, []types.PhonemeEvent, error) {
	d := ComposeEmotion(s, b.synth.Capabilities(), b.voice)
	req := b.request(d)
	if voiceID != "" {
		req.Voice.ID = voiceID
	}

	textCh := make(chan string, 1)
	textCh <- d.Direction + text
	close(textCh)

	if includePhonemes && b.synth.Capabilities().SupportsPhonemes {
		if ps, ok := b.synth.(tts.PhonemeStreamer); ok {
			ch, err := ps.SynthesizeStreamWithPhonemes(ctx, textCh, req)
			if err != nil {
				return nil, nil, fmt.Errorf("ttsbridge: start phoneme synthesis: %w", err)
			}
			var audio []byte
			var phonemes []types.PhonemeEvent
			for chunk := range ch {
				audio = append(audio, chunk.Audio...)
				phonemes = append(phonemes, chunk.Phonemes...)
			}
			return audio, phonemes, ctx.Err()
		}
	}

	ch, err := b.synth.SynthesizeStream(ctx, textCh, req)
	if err != nil {
		return nil, nil, fmt.Errorf("ttsbridge: start synthesis: %w", err)
	}
	var audio []byte
	for chunk := range ch {
		audio = append(audio, chunk...)
	}
	return audio, nil, ctx.Err()
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 when the text holds no
// complete sentence yet.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
