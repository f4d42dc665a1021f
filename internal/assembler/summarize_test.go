package assembler

import (
	"context"
	"errors"
	"testing"

	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	llmmock "github.com/atlas-assistant/cortex/pkg/provider/llm/mock"
	"github.com/atlas-assistant/cortex/pkg/types"
)

func TestLLMSummarizerParsesStructuredResponse(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{
			"summary": "Ana and Tom planned a pasta dinner.",
			"decisions": ["pasta tonight"],
			"open_questions": ["who does the shopping"],
			"entities": ["Ana", "Tom"],
			"topics": ["dinner"]
		}`},
	}
	s := NewLLMSummarizer(p)

	cp, err := s.Summarize(context.Background(), []types.Message{
		{Role: "user", Name: "Ana", Content: "let's have pasta tonight"},
		{Role: "assistant", Content: "Pasta it is."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cp.Summary != "Ana and Tom planned a pasta dinner." {
		t.Fatalf("summary = %q", cp.Summary)
	}
	if len(cp.Decisions) != 1 || cp.Decisions[0] != "pasta tonight" {
		t.Fatalf("decisions = %v", cp.Decisions)
	}
	if len(cp.Entities) != 2 {
		t.Fatalf("entities = %v", cp.Entities)
	}
}

func TestLLMSummarizerCodeFencedJSON(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"summary\": \"Short recap.\"}\n```",
		},
	}
	cp, err := NewLLMSummarizer(p).Summarize(context.Background(), []types.Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cp.Summary != "Short recap." {
		t.Fatalf("summary = %q", cp.Summary)
	}
}

func TestLLMSummarizerProseFallback(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "They talked about dinner plans."},
	}
	cp, err := NewLLMSummarizer(p).Summarize(context.Background(), []types.Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cp.Summary != "They talked about dinner plans." {
		t.Fatalf("summary = %q", cp.Summary)
	}
}

func TestLLMSummarizerPropagatesError(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	if _, err := NewLLMSummarizer(p).Summarize(context.Background(), []types.Message{
		{Role: "user", Content: "hi"},
	}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLLMSummarizerTranscriptUsesSpeakerNames(t *testing.T) {
	var got llm.CompletionRequest
	p := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			got = req
			return &llm.CompletionResponse{Content: `{"summary": "ok"}`}, nil
		},
	}
	_, err := NewLLMSummarizer(p).Summarize(context.Background(), []types.Message{
		{Role: "user", Name: "Aoife", Content: "turn on the lights"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "Aoife: turn on the lights\n" {
		t.Fatalf("transcript = %+v", got.Messages)
	}
}
