// Package orchestrator implements the generation layer: streaming model
// output with latency-masking fillers, overflow continuation, sentence
// dedup, and interruption handling.
//
// All caller-visible output flows through a single ordered emission
// channel; once a chunk is emitted it is never retracted. The filler and
// the model stream start concurrently, with the model prompt carrying a
// directive that the filler prefix was already delivered.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const (
	// maxContinuations bounds the overflow cycles for one turn.
	maxContinuations = 3

	// emissionBuf absorbs bursts without blocking the generation goroutine.
	emissionBuf = 32

	// continuationStitch opens every continuation so the seam reads as one
	// response.
	continuationStitch = "…and continuing with that…"

	// fillerDirective tells the model its opening was already spoken.
	fillerDirective = "A brief filler phrase (%q) was already delivered to the user as the start of your reply. Continue naturally from it; do not repeat or rephrase it."

	// wrapUpSentence closes a response that hit the total output cap.
	wrapUpSentence = " Let me stop there — ask me to go on if you'd like more."
)

// State is the generation FSM state.
type State int

const (
	StateStreaming State = iota
	StateFillerSent
	StateCompacting
	StateContinuing
	StateDeduping
	StateDone
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateFillerSent:
		return "filler_sent"
	case StateCompacting:
		return "compacting"
	case StateContinuing:
		return "continuing"
	case StateDeduping:
		return "deduping"
	case StateDone:
		return "done"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event is one emission on the output channel.
type Event struct {
	// Text is the incremental content.
	Text string

	// Filler marks the latency-masking prefix.
	Filler bool

	// FinishReason is set on the final event: "stop", "max_output",
	// "interrupted", or "error".
	FinishReason string

	// Err carries a stream-fatal error alongside FinishReason "error".
	Err error
}

// Request is one generation task.
type Request struct {
	SessionID string

	// SystemPrompt and Messages come from the context assembler.
	SystemPrompt string
	Messages     []types.Message

	// UserText is the raw turn text, used for the filler decision.
	UserText string

	// UserID scopes personal fillers.
	UserID string

	// Temperature passes through to the provider.
	Temperature float64

	// MaxTotalOutput caps the whole response in tokens (0 = default).
	MaxTotalOutput int

	// PredictedConfidence drives the confidence-filler switch.
	PredictedConfidence float64

	// Role overrides the generation model slot for this request. Empty
	// uses the default provider. Continuations and seam repair keep
	// their usual models.
	Role types.Role
}

// Compactor shrinks the session window between continuation cycles.
type Compactor interface {
	ForceCompact(ctx context.Context, sessionID string)
}

// Stream is one live generation. Read Events until closed.
type Stream struct {
	Events <-chan Event

	mu        sync.Mutex
	state     State
	emitted   []string // emitted sentences, for dedup
	emittedCh int      // emitted characters, for the output cap
	cancel    context.CancelFunc
	interrupt InterruptKind
}

// State returns the current FSM state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns everything emitted so far, fillers included.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.emitted, "")
}

// Interrupt stops the stream with the given class. The partial response
// stays committed; cancellation takes effect within one emission boundary.
func (s *Stream) Interrupt(kind InterruptKind) {
	s.mu.Lock()
	s.interrupt = kind
	s.setStateLocked(StateInterrupted)
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Stream) setStateLocked(st State) {
	// Done and Interrupted are terminal.
	if s.state == StateDone || s.state == StateInterrupted {
		return
	}
	s.state = st
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(st)
}

func (s *Stream) interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateInterrupted
}

// Orchestrator drives L3 generation.
type Orchestrator struct {
	provider llm.Provider
	repair   llm.Provider // fast model for seam repair; falls back to provider
	chooser  func(types.Role) llm.Provider
	fillers  *FillerPool
	compact  Compactor
	logger   *slog.Logger

	maxTotalOutput int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRepairProvider sets the fast model used for seam repair calls.
func WithRepairProvider(p llm.Provider) Option {
	return func(o *Orchestrator) { o.repair = p }
}

// WithCompactor enables context compaction between continuation cycles.
func WithCompactor(c Compactor) Option {
	return func(o *Orchestrator) { o.compact = c }
}

// WithRoleChooser lets requests pick a model slot via Request.Role.
func WithRoleChooser(f func(types.Role) llm.Provider) Option {
	return func(o *Orchestrator) { o.chooser = f }
}

// WithFillerPool replaces the default filler pool.
func WithFillerPool(p *FillerPool) Option {
	return func(o *Orchestrator) { o.fillers = p }
}

// WithMaxTotalOutput sets the default whole-response token cap.
func WithMaxTotalOutput(tokens int) Option {
	return func(o *Orchestrator) { o.maxTotalOutput = tokens }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New constructs an orchestrator over the generation provider.
func New(provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:       provider,
		fillers:        NewFillerPool(),
		logger:         slog.Default(),
		maxTotalOutput: 8192,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.repair == nil {
		o.repair = provider
	}
	return o
}

// Fillers exposes the pool (satellite sync, admin surface).
func (o *Orchestrator) Fillers() *FillerPool {
	return o.fillers
}

// Generate starts one generation. The returned stream's Events channel is
// live immediately; the filler (when selected) is the first emission.
func (o *Orchestrator) Generate(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, emissionBuf)
	s := &Stream{Events: events, state: StateStreaming, cancel: cancel}

	filler, useFiller := o.fillers.Select(
		req.SessionID, req.UserID, ClassifyTurn(req.UserText), req.PredictedConfidence)

	go func() {
		defer cancel()
		defer close(events)
		o.run(ctx, req, s, events, filler, useFiller)
	}()
	return s
}

// run is the generation loop: filler, first model pass, then up to
// maxContinuations overflow cycles.
func (o *Orchestrator) run(ctx context.Context, req Request, s *Stream, events chan<- Event, filler Filler, useFiller bool) {
	maxOut := req.MaxTotalOutput
	if maxOut <= 0 {
		maxOut = o.maxTotalOutput
	}

	sysPrompt := req.SystemPrompt
	if useFiller {
		o.emit(s, events, Event{Text: filler.Text, Filler: true})
		s.setState(StateFillerSent)
		sysPrompt += "\n\n" + fmt.Sprintf(fillerDirective, strings.TrimSpace(filler.Text))
	}

	messages := append([]types.Message(nil), req.Messages...)
	finish := o.streamOnce(ctx, o.providerFor(req.Role), s, events, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Messages:     messages,
		Temperature:  req.Temperature,
	}, maxOut)

	for cycle := 0; finish == "length" && cycle < maxContinuations; cycle++ {
		if s.interrupted() || ctx.Err() != nil {
			break
		}
		// The stitch is spoken before compaction so the pause reads as
		// deliberate; the continuation prompt asks the model to open with
		// the same phrase, and continueOnce strips that echo.
		s.setState(StateFillerSent)
		o.emit(s, events, Event{Text: " " + continuationStitch})

		s.setState(StateCompacting)
		if o.compact != nil {
			o.compact.ForceCompact(ctx, req.SessionID)
		}

		s.setState(StateContinuing)
		finish = o.continueOnce(ctx, req, s, events, sysPrompt, maxOut)
	}

	if s.interrupted() {
		o.emit(s, events, Event{FinishReason: "interrupted"})
		return
	}
	switch finish {
	case "error":
		// streamOnce already emitted the error event.
	case "max_output":
		o.emit(s, events, Event{Text: wrapUpSentence})
		o.finish(s, events, "max_output")
	default:
		o.finish(s, events, "stop")
	}
}

// streamOnce forwards one model stream to the emission channel. Returns the
// finish reason; "max_output" when the cap tripped mid-stream.
func (o *Orchestrator) streamOnce(ctx context.Context, provider llm.Provider, s *Stream, events chan<- Event, req llm.CompletionRequest, maxOut int) string {
	ch, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "interrupted"
		}
		o.logger.Warn("generation stream failed", "error", err)
		o.emit(s, events, Event{FinishReason: "error", Err: fmt.Errorf("orchestrator: stream: %w", err)})
		s.setState(StateDone)
		return "error"
	}

	finish := "stop"
	for chunk := range ch {
		if chunk.Text != "" {
			o.emit(s, events, Event{Text: chunk.Text})
			if s.capReached(maxOut) {
				// Drain without emitting so the provider goroutine exits.
				go drainChunks(ch)
				return "max_output"
			}
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if ctx.Err() != nil {
		return "interrupted"
	}
	return finish
}

// continueOnce runs one overflow continuation: full collect, dedup against
// emitted text, optional seam repair, then emit the survivors.
func (o *Orchestrator) continueOnce(ctx context.Context, req Request, s *Stream, events chan<- Event, sysPrompt string, maxOut int) string {
	emittedText := s.Text()
	messages := append([]types.Message(nil), req.Messages...)
	messages = append(messages,
		types.Message{Role: "assistant", Content: emittedText},
		types.Message{Role: "user", Content: "Continue exactly where you stopped. Open with \"" + continuationStitch + "\" and do not repeat anything already said."},
	)

	ch, err := o.providerFor(req.Role).StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Messages:     messages,
		Temperature:  req.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "interrupted"
		}
		o.logger.Warn("continuation stream failed", "error", err)
		return "stop" // degrade: close the response at the overflow point
	}

	var collected strings.Builder
	finish := "stop"
	for chunk := range ch {
		collected.WriteString(chunk.Text)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if ctx.Err() != nil {
		return "interrupted"
	}

	s.setState(StateDeduping)
	continuation := strings.TrimPrefix(strings.TrimSpace(collected.String()), continuationStitch)
	kept, removed := dedupeContinuation(s.sentences(), continuation)
	if needsRepair(kept, removed) {
		kept = o.repairSeam(ctx, emittedText, kept)
	}

	out := strings.Join(kept, " ")
	if out != "" {
		o.emit(s, events, Event{Text: " " + out})
		if s.capReached(maxOut) {
			return "max_output"
		}
	}
	return finish
}

// providerFor resolves the model slot for a request.
func (o *Orchestrator) providerFor(role types.Role) llm.Provider {
	if role == "" || o.chooser == nil {
		return o.provider
	}
	if p := o.chooser(role); p != nil {
		return p
	}
	return o.provider
}

// repairSeam asks the fast model to smooth the transition after heavy
// dedup. Failures return the input unchanged.
func (o *Orchestrator) repairSeam(ctx context.Context, emitted string, kept []string) []string {
	if len(kept) == 0 {
		return kept
	}
	tail := emitted
	if len(tail) > 400 {
		tail = tail[len(tail)-400:]
	}
	resp, err := o.repair.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You smooth transitions in assistant responses. Rewrite the continuation so it flows naturally from the preceding text. Keep all information; change only the seam. Respond with the rewritten continuation only.",
		Messages: []types.Message{
			{Role: "user", Content: "Preceding text:\n" + tail + "\n\nContinuation:\n" + strings.Join(kept, " ")},
		},
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("seam repair failed, emitting unrepaired continuation", "error", err)
		return kept
	}
	return splitSentences(resp.Content)
}

// emit pushes one event and records text for dedup and the output cap.
// Events are dropped once the stream is terminal (the channel may be
// closing), preserving the never-retract rule for what was already sent.
func (o *Orchestrator) emit(s *Stream, events chan<- Event, ev Event) {
	s.mu.Lock()
	if ev.Text != "" {
		s.emitted = append(s.emitted, ev.Text)
		s.emittedCh += len(ev.Text)
	}
	s.mu.Unlock()
	events <- ev
}

func (o *Orchestrator) finish(s *Stream, events chan<- Event, reason string) {
	events <- Event{FinishReason: reason}
	s.setState(StateDone)
}

// capReached estimates emitted tokens against the cap.
func (s *Stream) capReached(maxOut int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emittedCh/4 >= maxOut
}

// sentences returns the emitted text split for dedup.
func (s *Stream) sentences() []string {
	return splitSentences(s.Text())
}

func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
