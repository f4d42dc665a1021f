package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// autoModel is the model selector that delegates role choice to the
// complexity heuristic.
const autoModel = "atlas-cortex"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// chatRequest is the OpenAI-compatible body plus the cortex extension
// fields. Conversation history lives server-side; only the last user
// message drives the turn.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`

	SpeakerID   string `json:"speaker_id"`
	SatelliteID string `json:"satellite_id"`
	Area        string `json:"area"`
	SessionID   string `json:"session_id"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object"`
	Created      int64        `json:"created"`
	Model        string       `json:"model"`
	Choices      []chatChoice `json:"choices"`
	MatchedLayer string       `json:"matched_layer,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// A user message with empty content is a valid turn (the pipeline
	// answers it with a re-prompt); only a request with no user message at
	// all is malformed.
	text, ok := lastUserMessage(req.Messages)
	if !ok {
		respondError(w, http.StatusBadRequest, "messages must contain a user message")
		return
	}
	role, err := resolveRole(req.Model, text)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn := types.Turn{
		Channel:     types.ChannelAPI,
		SessionID:   sessionID(req),
		SpeakerID:   req.SpeakerID,
		SatelliteID: req.SatelliteID,
		AreaHint:    req.Area,
		Text:        text,
		RoleHint:    role,
		Temperature: req.Temperature,
	}

	res := s.deps.Pipeline.Process(r.Context(), turn)
	model := req.Model
	if model == "" {
		model = autoModel
	}

	if req.Stream {
		s.streamChat(w, r, res, model)
		return
	}

	content := res.Response
	finish := "stop"
	if res.Events != nil {
		var b strings.Builder
		for ev := range res.Events {
			if ev.Filler {
				continue
			}
			b.WriteString(ev.Text)
			if ev.FinishReason != "" {
				finish = apiFinishReason(ev.FinishReason)
			}
			if ev.Err != nil {
				respondError(w, http.StatusBadGateway, "generation failed")
				return
			}
		}
		content = b.String()
	}
	respondJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + res.TurnID,
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: "assistant", Content: content},
			FinishReason: &finish,
		}},
		MatchedLayer: string(res.MatchedLayer),
	})
}

// streamChat emits SSE chunks and the [DONE] terminator. Non-llm layers
// stream their full text as a single chunk.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, res pipeline.Resolution, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunk := func(c chatResponse) {
		data, err := json.Marshal(c)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	delta := func(text string, finish *string) {
		var d *chatMessage
		if text != "" || finish == nil {
			d = &chatMessage{Role: "assistant", Content: text}
		}
		c := chatResponse{
			ID:      "chatcmpl-" + res.TurnID,
			Object:  "chat.completion.chunk",
			Created: s.now().Unix(),
			Model:   model,
			Choices: []chatChoice{{Delta: d, FinishReason: finish}},
		}
		if finish != nil {
			c.MatchedLayer = string(res.MatchedLayer)
		}
		chunk(c)
	}

	finish := "stop"
	if res.Events != nil {
		for ev := range res.Events {
			if r.Context().Err() != nil {
				interruptStream(res, orchestrator.InterruptStop)
				break
			}
			if ev.Filler {
				continue
			}
			if ev.Err != nil {
				finish = "error"
				break
			}
			if ev.Text != "" {
				delta(ev.Text, nil)
			}
			if ev.FinishReason != "" {
				finish = apiFinishReason(ev.FinishReason)
			}
		}
	} else if res.Response != "" {
		delta(res.Response, nil)
	}

	delta("", &finish)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// interruptStream stops a live generation when the client goes away.
func interruptStream(res pipeline.Resolution, kind orchestrator.InterruptKind) {
	if res.Stream != nil {
		res.Stream.Interrupt(kind)
	}
}

// lastUserMessage returns the text of the final user-role message. ok is
// false when the request carries no user message at all.
func lastUserMessage(messages []chatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content), true
		}
	}
	return "", false
}

// sessionID derives a stable conversation key: explicit session, then
// per-speaker, then a fresh id.
func sessionID(req chatRequest) string {
	switch {
	case req.SessionID != "":
		return req.SessionID
	case req.SpeakerID != "":
		return "api-" + req.SpeakerID
	default:
		return "api-" + uuid.NewString()
	}
}

// resolveRole maps the model selector to a generation slot. The auto
// selector delegates to the complexity heuristic.
func resolveRole(model, text string) (types.Role, error) {
	switch model {
	case "", autoModel:
		return selectRole(text), nil
	}
	role := types.Role(model)
	switch role {
	case types.RoleFast, types.RoleStandard, types.RoleThinking:
		return role, nil
	}
	return "", fmt.Errorf("unknown model %q", model)
}

// reasoningHint marks requests that benefit from the thinking slot.
var reasoningHint = regexp.MustCompile(`(?i)\b(step.by.step|reason|prove|analy[sz]e|compare|plan|trade.?offs?|debug|derive)\b`)

// selectRole is the auto-model complexity heuristic: short turns go to
// the fast slot, long or reasoning-heavy ones to thinking, the rest to
// standard.
func selectRole(text string) types.Role {
	words := len(strings.Fields(text))
	switch {
	case words <= 12:
		return types.RoleFast
	case words > 80 || reasoningHint.MatchString(text):
		return types.RoleThinking
	default:
		return types.RoleStandard
	}
}

// apiFinishReason maps orchestrator finish reasons onto the API's set.
func apiFinishReason(reason string) string {
	switch reason {
	case "max_output":
		return "length"
	case "stop", "interrupted":
		return "stop"
	default:
		return reason
	}
}
