package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// stubSummarizer returns a fixed-summary checkpoint and records its inputs.
type stubSummarizer struct {
	mu    sync.Mutex
	calls [][]types.Message
	err   error
}

func (s *stubSummarizer) Summarize(_ context.Context, msgs []types.Message) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, msgs)
	return &Checkpoint{Summary: fmt.Sprintf("summary of %d turns", len(msgs))}, nil
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func userTurn(content string) types.Message {
	return types.Message{Role: "user", Content: content}
}

// filler returns a message of roughly n tokens.
func filler(n int) types.Message {
	return userTurn(strings.Repeat("word ", n*charsPerToken/5))
}

func seqID() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("cp-%d", n)
	}
}

func TestAppendBelowThresholdNoCompaction(t *testing.T) {
	sum := &stubSummarizer{}
	a := New(1000, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.Append(ctx, "s1", filler(50))
	}
	if sum.callCount() != 0 {
		t.Fatalf("summarizer called %d times below threshold", sum.callCount())
	}
	if got := len(a.ActiveTurns("s1")); got != 5 {
		t.Fatalf("active turns = %d", got)
	}
}

func TestSoftCompactionSummarisesOldestThird(t *testing.T) {
	sum := &stubSummarizer{}
	a := New(1000, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	// 9 turns × ~70 tokens ≈ 630 tokens > 60% of 1000.
	for i := 0; i < 9; i++ {
		a.Append(ctx, "s1", filler(70))
	}
	if sum.callCount() == 0 {
		t.Fatal("soft threshold did not trigger compaction")
	}
	cps := a.Checkpoints("s1")
	if len(cps) == 0 {
		t.Fatal("no checkpoint recorded")
	}
	if cps[0].TurnStart != 0 {
		t.Fatalf("first checkpoint starts at %d", cps[0].TurnStart)
	}
	if got := len(a.ActiveTurns("s1")); got >= 9 {
		t.Fatalf("window not reduced: %d turns", got)
	}
}

func TestHardCompactionKeepsLastFive(t *testing.T) {
	sum := &stubSummarizer{}
	// Window small enough that one big turn jumps straight past 80%.
	a := New(400, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		a.Append(ctx, "s1", filler(10))
	}
	a.Append(ctx, "s1", filler(250))
	if got := len(a.ActiveTurns("s1")); got != compactHardKeep {
		t.Fatalf("active turns after hard compaction = %d, want %d", got, compactHardKeep)
	}
}

func TestCompactionIsIdempotent(t *testing.T) {
	sum := &stubSummarizer{}
	a := New(1000, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	a.Append(ctx, "s1", filler(50))
	before := sum.callCount()
	a.ForceCompact(ctx, "s1") // 1 turn ≤ keep: no-op
	a.ForceCompact(ctx, "s1")
	if sum.callCount() != before {
		t.Fatal("compacting an already-compact window summarised again")
	}
}

func TestCompactionFailureKeepsWindow(t *testing.T) {
	sum := &stubSummarizer{err: errors.New("model down")}
	a := New(100, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a.Append(ctx, "s1", filler(20))
	}
	if got := len(a.ActiveTurns("s1")); got != 10 {
		t.Fatalf("turns lost on summarizer failure: %d", got)
	}
	if got := len(a.Checkpoints("s1")); got != 0 {
		t.Fatalf("checkpoint recorded despite failure: %d", got)
	}
}

func TestTurnOffsetTracksCompactedRanges(t *testing.T) {
	sum := &stubSummarizer{}
	a := New(1_000_000, sum, WithIDGenerator(seqID()))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a.Append(ctx, "s1", userTurn(fmt.Sprintf("turn %d", i)))
	}
	a.compact(ctx, "s1", 5)
	cps := a.Checkpoints("s1")
	if len(cps) != 1 || cps[0].TurnStart != 0 || cps[0].TurnEnd != 4 {
		t.Fatalf("checkpoint range = %+v", cps)
	}

	for i := 10; i < 13; i++ {
		a.Append(ctx, "s1", userTurn(fmt.Sprintf("turn %d", i)))
	}
	a.compact(ctx, "s1", 5)
	cps = a.Checkpoints("s1")
	if len(cps) != 2 || cps[1].TurnStart != 5 || cps[1].TurnEnd != 7 {
		t.Fatalf("second checkpoint range = %+v", cps[1])
	}
}

func TestEndSessionDropsWindow(t *testing.T) {
	a := New(1000, &stubSummarizer{}, WithIDGenerator(seqID()))
	a.Append(context.Background(), "s1", userTurn("hello"))
	a.EndSession("s1")
	if got := len(a.ActiveTurns("s1")); got != 0 {
		t.Fatalf("window survived EndSession: %d turns", got)
	}
}
