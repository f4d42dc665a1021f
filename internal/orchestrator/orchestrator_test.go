package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	llmmock "github.com/atlas-assistant/cortex/pkg/provider/llm/mock"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// scriptedProvider returns a different chunk sequence for each
// StreamCompletion call, in script order.
type scriptedProvider struct {
	mu        sync.Mutex
	scripts   [][]llm.Chunk
	calls     []llm.CompletionRequest
	streamErr error
}

func (p *scriptedProvider) StreamCompletion(_ context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	var script []llm.Chunk
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	ch := make(chan llm.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("complete not scripted")
}

func (p *scriptedProvider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total, nil
}

func (p *scriptedProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{}
}

var _ llm.Provider = (*scriptedProvider)(nil)

// blockingProvider emits one chunk, then holds the stream open until the
// context is cancelled.
type blockingProvider struct{}

func (p *blockingProvider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		ch <- llm.Chunk{Text: "The first part of a long answer. "}
		<-ctx.Done()
	}()
	return ch, nil
}

func (p *blockingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *blockingProvider) CountTokens([]types.Message) (int, error) { return 0, nil }

func (p *blockingProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{}
}

var _ llm.Provider = (*blockingProvider)(nil)

type memCompactor struct {
	mu    sync.Mutex
	calls int
}

func (c *memCompactor) ForceCompact(context.Context, string) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *memCompactor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func collectEvents(s *Stream) []Event {
	var out []Event
	for ev := range s.Events {
		out = append(out, ev)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────

func TestGenerateFillerThenStream(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "the capital of France is Paris."}, {FinishReason: "stop"}},
	}}
	o := New(p)

	s := o.Generate(context.Background(), Request{
		SessionID:           "s1",
		SystemPrompt:        "You are a household assistant.",
		UserText:            "tell me the capital of France",
		PredictedConfidence: 0.95,
	})
	events := collectEvents(s)

	if len(events) < 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if !events[0].Filler || events[0].Text == "" {
		t.Fatalf("first event should be a filler, got %+v", events[0])
	}
	last := events[len(events)-1]
	if last.FinishReason != "stop" {
		t.Fatalf("finish = %q", last.FinishReason)
	}
	if s.State() != StateDone {
		t.Fatalf("state = %v", s.State())
	}
	if !strings.Contains(p.calls[0].SystemPrompt, "already delivered") {
		t.Fatalf("system prompt missing the filler directive: %q", p.calls[0].SystemPrompt)
	}
	if !strings.Contains(s.Text(), "Paris") {
		t.Fatalf("text = %q", s.Text())
	}
}

func TestGenerateNoFillerForCommandTurn(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "Done.", FinishReason: "stop"}},
	}}
	o := New(p)

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven",
	})
	events := collectEvents(s)

	for _, ev := range events {
		if ev.Filler {
			t.Fatalf("command turn got a filler: %+v", ev)
		}
	}
	if strings.Contains(p.calls[0].SystemPrompt, "already delivered") {
		t.Fatal("system prompt carries a filler directive without a filler")
	}
}

func TestGenerateContinuationAfterOverflow(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "Pasta needs salted water. "}, {Text: "Boil it for ten minutes.", FinishReason: "length"}},
		{{Text: "…and continuing with that… Then drain and toss with the sauce.", FinishReason: "stop"}},
	}}
	compactor := &memCompactor{}
	o := New(p, WithCompactor(compactor))

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven", // no filler
	})
	events := collectEvents(s)

	if got := events[len(events)-1].FinishReason; got != "stop" {
		t.Fatalf("finish = %q", got)
	}
	if compactor.count() != 1 {
		t.Fatalf("compactions = %d, want 1", compactor.count())
	}
	if len(p.calls) != 2 {
		t.Fatalf("stream calls = %d, want 2", len(p.calls))
	}

	cont := p.calls[1]
	msgs := cont.Messages
	if len(msgs) < 2 {
		t.Fatalf("continuation messages = %+v", msgs)
	}
	if msgs[len(msgs)-2].Role != "assistant" || !strings.Contains(msgs[len(msgs)-2].Content, "Boil it for ten minutes.") {
		t.Fatalf("continuation missing emitted text: %+v", msgs[len(msgs)-2])
	}
	if !strings.Contains(msgs[len(msgs)-1].Content, continuationStitch) {
		t.Fatalf("continuation instruction missing stitch: %q", msgs[len(msgs)-1].Content)
	}

	text := s.Text()
	if !strings.Contains(text, "Then drain and toss with the sauce.") {
		t.Fatalf("text = %q", text)
	}
	if strings.Count(text, "Boil it for ten minutes.") != 1 {
		t.Fatalf("duplicated overflow text: %q", text)
	}

	// The stitch reaches the caller exactly once, between the truncated
	// text and the continuation.
	if strings.Count(text, continuationStitch) != 1 {
		t.Fatalf("stitch emitted %d times: %q", strings.Count(text, continuationStitch), text)
	}
	var streamed strings.Builder
	for _, ev := range events {
		streamed.WriteString(ev.Text)
	}
	if !strings.Contains(streamed.String(), "Boil it for ten minutes. "+continuationStitch+" Then drain") {
		t.Fatalf("stitch missing or out of order in stream: %q", streamed.String())
	}
}

func TestGenerateDedupAndSeamRepair(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "Pasta needs salted water. "}, {Text: "Boil it for ten minutes.", FinishReason: "length"}},
		// The continuation repeats a sentence, forcing dedup past the
		// repair ratio.
		{{Text: "…and continuing with that… Boil it for ten minutes. Then drain and toss with the sauce.", FinishReason: "stop"}},
	}}
	repair := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "After boiling, drain and toss with the sauce."},
	}
	o := New(p, WithRepairProvider(repair))

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven",
	})
	collectEvents(s)

	if len(repair.CompleteCalls) != 1 {
		t.Fatalf("repair calls = %d, want 1", len(repair.CompleteCalls))
	}
	text := s.Text()
	if !strings.Contains(text, "After boiling, drain and toss with the sauce.") {
		t.Fatalf("text = %q", text)
	}
	if strings.Count(text, "Boil it for ten minutes.") != 1 {
		t.Fatalf("dedup failed: %q", text)
	}
}

func TestGenerateContinuationLimit(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "The pasta needs salted water. ", FinishReason: "length"}},
		{{Text: "…and continuing with that… Meanwhile warm the sauce gently. ", FinishReason: "length"}},
		{{Text: "…and continuing with that… Chop parsley for garnish. ", FinishReason: "length"}},
		{{Text: "…and continuing with that… Finally grate some parmesan. ", FinishReason: "length"}},
	}}
	compactor := &memCompactor{}
	o := New(p, WithCompactor(compactor))

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven",
	})
	events := collectEvents(s)

	if len(p.calls) != 1+maxContinuations {
		t.Fatalf("stream calls = %d, want %d", len(p.calls), 1+maxContinuations)
	}
	if compactor.count() != maxContinuations {
		t.Fatalf("compactions = %d, want %d", compactor.count(), maxContinuations)
	}
	if got := events[len(events)-1].FinishReason; got != "stop" {
		t.Fatalf("finish = %q", got)
	}
	for _, part := range []string{"salted water", "sauce gently", "parsley", "parmesan"} {
		if !strings.Contains(s.Text(), part) {
			t.Fatalf("text missing %q: %q", part, s.Text())
		}
	}
}

func TestGenerateTotalOutputCap(t *testing.T) {
	p := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: strings.Repeat("All work and no play makes a dull answer. ", 10), FinishReason: "stop"}},
	}}
	o := New(p)

	s := o.Generate(context.Background(), Request{
		SessionID:      "s1",
		UserText:       "turn on the oven",
		MaxTotalOutput: 5,
	})
	events := collectEvents(s)

	if got := events[len(events)-1].FinishReason; got != "max_output" {
		t.Fatalf("finish = %q", got)
	}
	if !strings.Contains(s.Text(), "Let me stop there") {
		t.Fatalf("missing wrap-up: %q", s.Text())
	}
}

func TestGenerateStreamError(t *testing.T) {
	p := &scriptedProvider{streamErr: errors.New("backend down")}
	o := New(p)

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven",
	})
	events := collectEvents(s)

	last := events[len(events)-1]
	if last.FinishReason != "error" || last.Err == nil {
		t.Fatalf("last event = %+v", last)
	}
	if s.State() != StateDone {
		t.Fatalf("state = %v", s.State())
	}
}

func TestInterruptCommitsPartialResponse(t *testing.T) {
	o := New(&blockingProvider{})

	s := o.Generate(context.Background(), Request{
		SessionID: "s1",
		UserText:  "turn on the oven",
	})

	// Wait for the first chunk, then interrupt mid-stream.
	first := <-s.Events
	if !strings.Contains(first.Text, "first part") {
		t.Fatalf("first event = %+v", first)
	}
	s.Interrupt(InterruptStop)

	events := collectEvents(s)
	if len(events) == 0 {
		t.Fatal("no events after interrupt")
	}
	if got := events[len(events)-1].FinishReason; got != "interrupted" {
		t.Fatalf("finish = %q", got)
	}
	if s.State() != StateInterrupted {
		t.Fatalf("state = %v", s.State())
	}
	if !strings.Contains(s.Text(), "first part") {
		t.Fatalf("partial response lost: %q", s.Text())
	}
}
