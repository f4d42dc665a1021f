package server

import (
	"encoding/base64"
	"net/http"

	"github.com/atlas-assistant/cortex/pkg/audio"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// speechSampleRate is the synthesis output rate.
const speechSampleRate = 22050

type speechRequest struct {
	Input string `json:"input"`
	// Text is accepted as an alias for input.
	Text            string `json:"text"`
	Voice           string `json:"voice"`
	Format          string `json:"response_format"`
	Emotion         string `json:"emotion"`
	IncludePhonemes bool   `json:"include_phonemes"`
}

type phonemeJSON struct {
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	ID      string `json:"id"`
}

// speechEnvelope is the JSON response when phonemes are requested.
type speechEnvelope struct {
	Audio      string        `json:"audio"`
	Format     string        `json:"format"`
	SampleRate int           `json:"sample_rate"`
	Phonemes   []phonemeJSON `json:"phonemes"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text := req.Input
	if text == "" {
		text = req.Text
	}
	if text == "" {
		respondError(w, http.StatusBadRequest, "input is required")
		return
	}
	format := req.Format
	if format == "" {
		format = "pcm"
	}
	switch format {
	case "pcm", "wav", "opus":
	default:
		respondError(w, http.StatusBadRequest, "response_format must be pcm, wav, or opus")
		return
	}

	pcm, phonemes, err := s.deps.Synth.SynthesizeVoice(
		r.Context(), req.Voice, text, emotionSentiment(req.Emotion), req.IncludePhonemes)
	if err != nil {
		s.logger.Warn("speech synthesis failed", "error", err)
		respondError(w, http.StatusBadGateway, "synthesis failed")
		return
	}

	body := pcm
	contentType := "application/octet-stream"
	switch format {
	case "wav":
		body = audio.EncodeWAV(pcm, speechSampleRate, 1)
		contentType = "audio/wav"
	case "opus":
		body, err = audio.EncodeOpus(pcm, speechSampleRate)
		if err != nil {
			s.logger.Warn("opus encode failed", "error", err)
			respondError(w, http.StatusInternalServerError, "opus encoding failed")
			return
		}
		contentType = "audio/opus"
	}

	if req.IncludePhonemes {
		out := make([]phonemeJSON, len(phonemes))
		for i, p := range phonemes {
			out[i] = phonemeJSON{StartMs: p.StartMs, EndMs: p.EndMs, ID: p.ID}
		}
		respondJSON(w, http.StatusOK, speechEnvelope{
			Audio:      base64.StdEncoding.EncodeToString(body),
			Format:     format,
			SampleRate: speechSampleRate,
			Phonemes:   out,
		})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Sample-Rate", "22050")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// emotionSentiment maps a requested emotion onto the sentiment values the
// bridge's composer translates back into that emotion.
func emotionSentiment(name string) types.Sentiment {
	switch name {
	case "excited":
		return types.Sentiment{Polarity: 0.6, Arousal: 0.7, Label: "positive"}
	case "warm":
		return types.Sentiment{Polarity: 0.6, Arousal: 0.2, Label: "positive"}
	case "calming":
		return types.Sentiment{Polarity: -0.6, Arousal: 0.7, Label: "negative"}
	case "gentle":
		return types.Sentiment{Polarity: -0.6, Arousal: 0.2, Label: "negative"}
	default:
		return types.Sentiment{Label: "neutral"}
	}
}
