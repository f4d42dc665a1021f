package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const summarizeSystemPrompt = `You summarise household assistant conversations.
Given a conversation fragment, respond with ONLY a JSON object:
{
  "summary": "2-3 sentence summary",
  "decisions": ["decisions that were made"],
  "open_questions": ["questions still unresolved"],
  "entities": ["people, devices, places mentioned"],
  "topics": ["short topic tags"]
}
Omit empty arrays. No text outside the JSON.`

// LLMSummarizer produces checkpoints with the fast model.
type LLMSummarizer struct {
	provider llm.Provider
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer wraps the given provider (the registry's fast role).
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider}
}

// Summarize asks the model for a structured checkpoint. A response that is
// not valid JSON degrades to a prose-only checkpoint rather than failing
// the compaction.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []types.Message) (*Checkpoint, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		name := m.Role
		if m.Name != "" {
			name = m.Name
		}
		fmt.Fprintf(&transcript, "%s: %s\n", name, m.Content)
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarizeSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, fmt.Errorf("assembler: summarize: %w", err)
	}

	var parsed struct {
		Summary       string   `json:"summary"`
		Decisions     []string `json:"decisions"`
		OpenQuestions []string `json:"open_questions"`
		Entities      []string `json:"entities"`
		Topics        []string `json:"topics"`
	}
	raw := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Summary == "" {
		return &Checkpoint{Summary: strings.TrimSpace(resp.Content)}, nil
	}
	return &Checkpoint{
		Summary:       parsed.Summary,
		Decisions:     parsed.Decisions,
		OpenQuestions: parsed.OpenQuestions,
		Entities:      parsed.Entities,
		Topics:        parsed.Topics,
	}, nil
}

// extractJSON trims prose or code fences around the first JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
