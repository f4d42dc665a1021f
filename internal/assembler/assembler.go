// Package assembler builds token-budgeted prompts for the generation layer.
//
// Each session owns a window of active turns plus immutable checkpoints
// summarising compacted history. The assembler places content into budget
// regions in a stable order and compacts the window when usage crosses the
// 60% and 80% thresholds, so the prompt never starves the generation
// reserve.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common LLM
// tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// Compaction thresholds as fractions of the context window.
const (
	compactSoftRatio = 0.60 // summarise the oldest third
	compactHardRatio = 0.80 // keep only the last few turns
	compactHardKeep  = 5
)

// Generation reserves by model class.
const (
	ReserveStandard = 2048
	ReserveThinking = 4096
)

// Region caps relative to the free budget.
const (
	memoryShare = 0.20
	memoryCap   = 800
	activeShare = 0.60
	activeCap   = 3000
)

// Checkpoint is an immutable summary of a compacted turn range.
type Checkpoint struct {
	ID        string
	SessionID string

	// Summary is a 2–3 sentence digest of the compacted turns.
	Summary string

	// Decisions, OpenQuestions, Entities, Topics are the structured
	// extraction alongside the prose summary.
	Decisions     []string
	OpenQuestions []string
	Entities      []string
	Topics        []string

	// TurnStart and TurnEnd are the absolute turn sequence numbers the
	// checkpoint covers (inclusive). Expansion fetches the originals by
	// this range.
	TurnStart int
	TurnEnd   int

	CreatedAt time.Time
}

// Summarizer produces a checkpoint from a slice of turns. The fast model
// serves this role in production; tests substitute a stub.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []types.Message) (*Checkpoint, error)
}

// CheckpointStore persists checkpoints and the original turns they replace.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint, turns []types.Message) error
	ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error)
	// TurnsInRange returns the archived turns a checkpoint covers.
	TurnsInRange(ctx context.Context, sessionID string, start, end int) ([]types.Message, error)
}

// MetricsSink records compaction events (context_metrics rollups).
type MetricsSink interface {
	RecordCompaction(ctx context.Context, sessionID string, tokensBefore, tokensAfter int, checkpointID string) error
}

// window is the per-session mutable state.
type window struct {
	turns       []types.Message
	turnOffset  int // absolute sequence number of turns[0]
	checkpoints []Checkpoint
}

// Assembler holds all session windows. Safe for concurrent use.
type Assembler struct {
	contextTokens int
	summarizer    Summarizer
	store         CheckpointStore
	metrics       MetricsSink
	logger        *slog.Logger
	newID         func() string

	mu       sync.Mutex
	sessions map[string]*window
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithCheckpointStore persists checkpoints through the given store.
func WithCheckpointStore(s CheckpointStore) Option {
	return func(a *Assembler) { a.store = s }
}

// WithMetricsSink records compaction metrics.
func WithMetricsSink(m MetricsSink) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithLogger sets the assembler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// WithIDGenerator overrides checkpoint id generation (tests).
func WithIDGenerator(f func() string) Option {
	return func(a *Assembler) { a.newID = f }
}

// New constructs an assembler for the given context window size.
func New(contextTokens int, summarizer Summarizer, opts ...Option) *Assembler {
	a := &Assembler{
		contextTokens: contextTokens,
		summarizer:    summarizer,
		logger:        slog.Default(),
		newID:         uuid.NewString,
		sessions:      make(map[string]*window),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append adds one turn to the session window and compacts when usage
// crosses a threshold. Compaction failures degrade: the turn is kept and
// the window stays uncompacted.
func (a *Assembler) Append(ctx context.Context, sessionID string, msg types.Message) {
	a.mu.Lock()
	w := a.session(sessionID)
	w.turns = append(w.turns, msg)
	usage := a.usageLocked(w)
	a.mu.Unlock()

	switch {
	case usage >= compactHardRatio:
		a.compact(ctx, sessionID, compactHardKeep)
	case usage >= compactSoftRatio:
		a.compactOldestThird(ctx, sessionID)
	}
}

// ActiveTurns returns a copy of the session's uncompacted turns.
func (a *Assembler) ActiveTurns(sessionID string) []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.session(sessionID)
	return append([]types.Message(nil), w.turns...)
}

// Checkpoints returns the session's checkpoints, oldest first.
func (a *Assembler) Checkpoints(sessionID string) []Checkpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.session(sessionID)
	return append([]Checkpoint(nil), w.checkpoints...)
}

// EndSession drops the session window.
func (a *Assembler) EndSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// ForceCompact compacts ahead of a model switch so a larger generation
// reserve fits (thinking models).
func (a *Assembler) ForceCompact(ctx context.Context, sessionID string) {
	a.compact(ctx, sessionID, compactHardKeep)
}

// ExpandCheckpoint fetches the original turns behind a checkpoint.
func (a *Assembler) ExpandCheckpoint(ctx context.Context, cp Checkpoint) ([]types.Message, error) {
	if a.store == nil {
		return nil, fmt.Errorf("assembler: no checkpoint store configured")
	}
	turns, err := a.store.TurnsInRange(ctx, cp.SessionID, cp.TurnStart, cp.TurnEnd)
	if err != nil {
		return nil, fmt.Errorf("assembler: expand checkpoint %s: %w", cp.ID, err)
	}
	return turns, nil
}

// session returns the window for id, creating it if needed. Caller holds mu.
func (a *Assembler) session(id string) *window {
	w, ok := a.sessions[id]
	if !ok {
		w = &window{}
		a.sessions[id] = w
	}
	return w
}

// usageLocked is the window's share of the context budget. Caller holds mu.
func (a *Assembler) usageLocked(w *window) float64 {
	if a.contextTokens <= 0 {
		return 0
	}
	total := 0
	for _, m := range w.turns {
		total += estimateTokens(m)
	}
	for _, cp := range w.checkpoints {
		total += estimateText(cp.Summary)
	}
	return float64(total) / float64(a.contextTokens)
}

// compactOldestThird summarises the oldest third of the active turns into
// one checkpoint.
func (a *Assembler) compactOldestThird(ctx context.Context, sessionID string) {
	a.mu.Lock()
	w := a.session(sessionID)
	keep := len(w.turns) - len(w.turns)/3
	a.mu.Unlock()
	a.compact(ctx, sessionID, keep)
}

// compact summarises all but the newest keep turns into one checkpoint.
// Compacting a window at or below keep turns is a no-op.
func (a *Assembler) compact(ctx context.Context, sessionID string, keep int) {
	a.mu.Lock()
	w := a.session(sessionID)
	if len(w.turns) <= keep || len(w.turns) < 2 {
		a.mu.Unlock()
		return
	}
	old := append([]types.Message(nil), w.turns[:len(w.turns)-keep]...)
	start := w.turnOffset
	end := w.turnOffset + len(old) - 1
	tokensBefore := int(a.usageLocked(w) * float64(a.contextTokens))
	a.mu.Unlock()

	cp, err := a.summarizer.Summarize(ctx, old)
	if err != nil {
		a.logger.Warn("compaction summarise failed, keeping window",
			"session_id", sessionID, "error", err)
		return
	}
	cp.ID = a.newID()
	cp.SessionID = sessionID
	cp.TurnStart = start
	cp.TurnEnd = end
	cp.CreatedAt = time.Now()

	if a.store != nil {
		if err := a.store.SaveCheckpoint(ctx, *cp, old); err != nil {
			a.logger.Warn("checkpoint persist failed, keeping window",
				"session_id", sessionID, "error", err)
			return
		}
	}

	a.mu.Lock()
	// The window may have grown while summarising; drop exactly the turns
	// that were summarised.
	if len(w.turns) >= len(old) {
		w.turns = append([]types.Message(nil), w.turns[len(old):]...)
		w.turnOffset = end + 1
	}
	w.checkpoints = append(w.checkpoints, *cp)
	tokensAfter := int(a.usageLocked(w) * float64(a.contextTokens))
	a.mu.Unlock()

	if a.metrics != nil {
		if err := a.metrics.RecordCompaction(ctx, sessionID, tokensBefore, tokensAfter, cp.ID); err != nil {
			a.logger.Warn("compaction metric failed", "session_id", sessionID, "error", err)
		}
	}
}

// estimateTokens approximates the token cost of one message, including a
// small per-message overhead for role framing.
func estimateTokens(m types.Message) int {
	return len(m.Content)/charsPerToken + 4
}

func estimateText(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/charsPerToken + 1
}

