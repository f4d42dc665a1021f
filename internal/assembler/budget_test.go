package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/atlas-assistant/cortex/pkg/types"
)

func testInput() Input {
	return Input{
		System:          "You are Atlas, the household assistant. Stay safe and helpful.",
		ProfileSnapshot: "Speaker: Ana (adult). Area: kitchen.",
		Current:         types.Message{Role: "user", Content: "what did we decide about dinner?"},
	}
}

func TestAssembleOrdersRegions(t *testing.T) {
	a := New(8000, &stubSummarizer{}, WithIDGenerator(seqID()))
	ctx := context.Background()
	a.Append(ctx, "s1", types.Message{Role: "user", Content: "let's have pasta tonight"})
	a.Append(ctx, "s1", types.Message{Role: "assistant", Content: "Pasta it is."})

	in := testInput()
	in.Memory = []string{"Ana prefers the lights at 40% in the evening."}
	p := a.Assemble("s1", in)

	sys := p.SystemPrompt
	iSystem := strings.Index(sys, "You are Atlas")
	iProfile := strings.Index(sys, "Speaker: Ana")
	iMemory := strings.Index(sys, "Relevant memories")
	if iSystem < 0 || iProfile < iSystem || iMemory < iProfile {
		t.Fatalf("region order wrong in:\n%s", sys)
	}
	if len(p.Messages) != 3 {
		t.Fatalf("messages = %d, want active 2 + current", len(p.Messages))
	}
	if p.Messages[2].Content != in.Current.Content {
		t.Fatal("current message must come last")
	}
}

func TestAssembleIncludesCheckpoints(t *testing.T) {
	a := New(8000, &stubSummarizer{}, WithIDGenerator(seqID()))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		a.Append(ctx, "s1", types.Message{Role: "user", Content: "planning the weekend trip"})
	}
	a.compact(ctx, "s1", 5)

	p := a.Assemble("s1", testInput())
	if !strings.Contains(p.SystemPrompt, "Earlier in this conversation") {
		t.Fatalf("checkpoint section missing:\n%s", p.SystemPrompt)
	}
	if p.Report.CheckpointTokens == 0 {
		t.Fatal("checkpoint tokens unaccounted")
	}
}

func TestAssembleMemoryBudget(t *testing.T) {
	a := New(8000, &stubSummarizer{}, WithIDGenerator(seqID()))

	in := testInput()
	// Each snippet ~100 tokens; the memory cap for this window is
	// min(20% of free, 800) so only a handful fit.
	for i := 0; i < 30; i++ {
		in.Memory = append(in.Memory, strings.Repeat("memory detail ", 29))
	}
	p := a.Assemble("s1", in)

	if p.Report.MemoryTokens > memoryCap {
		t.Fatalf("memory region %d exceeds cap", p.Report.MemoryTokens)
	}
	if p.Report.MemorySnippetsDropped == 0 {
		t.Fatal("expected some snippets dropped")
	}
}

func TestAssembleDropsOldestTurnsWhenStarved(t *testing.T) {
	ctx := context.Background()
	// Push many turns in a session with a huge context so no compaction
	// interferes, then shrink the window and assemble against the cap.
	a := New(1_000_000, &stubSummarizer{}, WithIDGenerator(seqID()))
	for i := 0; i < 50; i++ {
		a.Append(ctx, "s1", filler(100))
	}
	a.contextTokens = 8000
	p := a.Assemble("s1", testInput())

	if p.Report.TurnsDropped == 0 {
		t.Fatal("expected oldest turns dropped")
	}
	if p.Report.ActiveTokens > activeCap {
		t.Fatalf("active region %d exceeds cap", p.Report.ActiveTokens)
	}
	// The newest turn survives right before the current message.
	if len(p.Messages) < 2 {
		t.Fatalf("messages = %d", len(p.Messages))
	}
}

func TestAssembleNeverDropsSystemOrCurrent(t *testing.T) {
	a := New(300, &stubSummarizer{}, WithIDGenerator(seqID()))

	in := testInput()
	in.Memory = []string{"a memory that cannot fit anywhere in this tiny budget"}
	p := a.Assemble("s1", in)

	if !strings.Contains(p.SystemPrompt, "You are Atlas") {
		t.Fatal("system region dropped")
	}
	if p.Messages[len(p.Messages)-1].Content != in.Current.Content {
		t.Fatal("current message dropped")
	}
	if !p.Report.Degraded {
		t.Fatal("starved budget not flagged degraded")
	}
	if p.Report.MemoryTokens != 0 {
		t.Fatal("memory kept despite starved budget")
	}
}

func TestAssembleThinkingReserve(t *testing.T) {
	a := New(8000, &stubSummarizer{}, WithIDGenerator(seqID()))

	std := a.Assemble("s1", testInput())
	in := testInput()
	in.Thinking = true
	thinking := a.Assemble("s1", in)

	if std.Report.Reserve != ReserveStandard || thinking.Report.Reserve != ReserveThinking {
		t.Fatalf("reserves = %d / %d", std.Report.Reserve, thinking.Report.Reserve)
	}
}
