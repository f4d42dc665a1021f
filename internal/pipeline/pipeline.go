// Package pipeline drives one user turn end to end: concurrent context
// assembly, the input safety pass, the L1/L2/L3 layer cascade, and the
// post-resolution bookkeeping (interaction log, memory extraction).
//
// The driver degrades rather than aborts: a failing context component
// falls back to a neutral default and the turn proceeds. The one
// exception is the guardrail pass, which fails closed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/internal/assembler"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/instant"
	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/profile"
	"github.com/atlas-assistant/cortex/internal/sentiment"
	"github.com/atlas-assistant/cortex/internal/spatial"
	"github.com/atlas-assistant/cortex/pkg/memory"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const (
	// hotQueryTimeout bounds the memory retrieval leg of assembly.
	hotQueryTimeout = 500 * time.Millisecond

	// finalizeTimeout bounds post-resolution bookkeeping.
	finalizeTimeout = 10 * time.Second

	// softBlockResponse redirects a soft-blocked turn.
	softBlockResponse = "I'd rather not go there. Is there something else I can help with?"

	// hardBlockResponse is the canned reply for a hard block.
	hardBlockResponse = "I can't help with that."

	// safetyContext is appended to the system prompt on a warn verdict.
	safetyContext = "Note: the last user message brushed against a sensitive topic. " +
		"Answer helpfully but keep the response age-appropriate and steer away from harmful detail."

	// hedgeNote is appended when the output pass flags unhedged medical or
	// legal advice.
	hedgeNote = " Please treat this as general information, not professional advice."

	// resumeOffer closes the answer to a mid-generation clarification.
	resumeOffer = "Want me to pick back up where I left off?"
)

// Timing is the per-turn latency breakdown.
type Timing struct {
	// Assembly covers the concurrent context fan-out.
	Assembly time.Duration

	// Guardrail covers the input safety pass.
	Guardrail time.Duration

	// Resolve covers layer matching up to the resolving layer. For L3 this
	// ends at stream start, not stream completion.
	Resolve time.Duration

	// Total is Assembly + Guardrail + Resolve.
	Total time.Duration
}

// Resolution is the outcome of one turn. Exactly one layer matches.
type Resolution struct {
	TurnID       string
	MatchedLayer types.MatchedLayer

	// Response is the full text for instant, action, and blocked layers.
	// Empty for the llm layer, whose text arrives on Events.
	Response string

	// Events is the live emission channel for the llm layer, nil otherwise.
	Events <-chan orchestrator.Event

	// Stream is the interrupt handle for the llm layer, nil otherwise.
	Stream *orchestrator.Stream

	// InstantKind is set when MatchedLayer is instant.
	InstantKind instant.Kind

	// ActionID is set when MatchedLayer is action.
	ActionID string

	// BlockReason is the guardrail category when MatchedLayer is blocked.
	BlockReason string

	// Degraded lists context components that fell back to defaults.
	Degraded []string

	Timing Timing
}

// Deps are the driver's collaborators. Identity, Guard, Instant, Actions,
// Dispatcher, Orchestrator, and Assembler are required; the rest degrade
// to no-ops when nil.
type Deps struct {
	Guard        *guardrail.Engine
	Learner      *guardrail.Learner
	Identity     *profile.Resolver
	Profiles     profile.Store
	Sentiment    *sentiment.Analyzer
	Spatial      *spatial.Resolver
	Memories     *memory.Searcher
	Assembler    *assembler.Assembler
	Instant      *instant.Resolver
	Actions      *action.Registry
	Dispatcher   *action.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Interactions memory.InteractionStore
	Queue        memory.Queue
}

// Metrics receives per-turn observations. Implemented by internal/observe.
type Metrics interface {
	ObserveTurn(layer string, timing Timing)
}

// Driver coordinates the turn pipeline. Safe for concurrent use.
type Driver struct {
	deps         Deps
	systemPrompt string
	logger       *slog.Logger
	metrics      Metrics
	redactor     *memory.Redactor
	now          func() time.Time
	newID        func() string

	mu     sync.Mutex
	active map[string]*liveStream // sessionID → in-flight generation
}

// liveStream is one in-flight generation, kept so a follow-up turn on the
// same session can be routed as an interruption.
type liveStream struct {
	stream *orchestrator.Stream
	text   string // the turn text that started the generation
}

// Option configures a Driver.
type Option func(*Driver)

// WithSystemPrompt sets the base system + safety region.
func WithSystemPrompt(prompt string) Option {
	return func(d *Driver) { d.systemPrompt = prompt }
}

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithMetrics attaches a turn metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New constructs the turn driver.
func New(deps Deps, opts ...Option) *Driver {
	d := &Driver{
		deps:         deps,
		systemPrompt: defaultSystemPrompt,
		logger:       slog.Default(),
		redactor:     memory.NewRedactor(),
		now:          time.Now,
		newID:        uuid.NewString,
		active:       make(map[string]*liveStream),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

const defaultSystemPrompt = "You are Atlas, the household assistant. You are warm, brief, " +
	"and practical. You speak to every member of the household, including children."

// layerZero is the assembled per-turn context.
type layerZero struct {
	identity  profile.Identity
	emotional *profile.EmotionalState
	sentiment types.Sentiment
	area      spatial.Area
	memories  []memory.Hit
	degraded  []string
}

// Process runs one turn through the full pipeline. For the llm layer the
// returned Resolution carries a live event channel; for every other layer
// the response text is final. A turn arriving while the session has a
// live generation is first classified as a possible interruption.
func (d *Driver) Process(ctx context.Context, turn types.Turn) Resolution {
	start := d.now()
	if turn.ID == "" {
		turn.ID = d.newID()
	}
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = start
	}

	if res, handled := d.interruption(ctx, turn, start); handled {
		return res
	}
	return d.process(ctx, turn, start)
}

// interruption routes a turn that arrives mid-generation. Stop commits
// the partial response with a one-line ack and no model call; redirect
// abandons the generation and processes the new turn; clarify answers
// the question and offers to resume; refine restarts generation with the
// constraint folded into the original request. Unclassified turns are
// not interruptions and take the normal path.
func (d *Driver) interruption(ctx context.Context, turn types.Turn, start time.Time) (Resolution, bool) {
	d.mu.Lock()
	ls := d.active[turn.SessionID]
	d.mu.Unlock()
	if ls == nil {
		return Resolution{}, false
	}

	kind := orchestrator.ClassifyInterrupt(turn.Text)
	if kind == orchestrator.InterruptNone {
		return Resolution{}, false
	}
	d.logger.Info("generation interrupted",
		"session", turn.SessionID, "kind", kind.String())
	ls.stream.Interrupt(kind)

	switch kind {
	case orchestrator.InterruptStop:
		res := Resolution{
			TurnID:       turn.ID,
			MatchedLayer: types.LayerInstant,
			Response:     orchestrator.StopAck,
			Timing:       Timing{Total: d.now().Sub(start)},
		}
		lz := layerZero{}
		if ident, err := d.deps.Identity.Resolve(ctx, turn.SessionID, turn.SpeakerID, nil); err == nil {
			lz.identity = ident
		}
		d.finalize(ctx, turn, lz, &res)
		return res, true
	case orchestrator.InterruptRefine:
		refined := turn
		refined.Text = ls.text + ". " + turn.Text
		return d.process(ctx, refined, start), true
	case orchestrator.InterruptClarify:
		res := d.process(ctx, turn, start)
		if res.Events == nil && res.Response != "" {
			res.Response += " " + resumeOffer
		}
		return res, true
	default: // redirect
		return d.process(ctx, turn, start), true
	}
}

func (d *Driver) process(ctx context.Context, turn types.Turn, start time.Time) Resolution {
	lz := d.assemble(ctx, turn)
	var timing Timing
	timing.Assembly = d.now().Sub(start)

	in := d.deps.Guard.CheckInput(ctx, turn.SessionID, lz.identity.UserID, turn.Text)
	timing.Guardrail = d.now().Sub(start) - timing.Assembly

	if in.Blocked() {
		res := d.blockedResolution(turn, lz, in, timing, start)
		d.finalize(ctx, turn, lz, &res)
		return res
	}

	safetyNote := ""
	if in.Verdict.Severity == guardrail.SeverityWarn || in.Drift == guardrail.DriftInjectSafety {
		safetyNote = safetyContext
	}

	// L1: deterministic instant answers.
	if ans, ok := d.deps.Instant.Resolve(turn); ok {
		timing.Resolve = d.now().Sub(start) - timing.Assembly - timing.Guardrail
		timing.Total = d.now().Sub(start)
		res := Resolution{
			TurnID:       turn.ID,
			MatchedLayer: types.LayerInstant,
			Response:     ans.Text,
			InstantKind:  ans.Kind,
			Degraded:     lz.degraded,
			Timing:       timing,
		}
		d.finalize(ctx, turn, lz, &res)
		return res
	}

	// L2: pattern-matched direct actions.
	if m, ok := d.deps.Actions.Match(turn.Text); ok {
		result, err := d.deps.Dispatcher.Dispatch(ctx, m, &lz.identity)
		if err == nil {
			timing.Resolve = d.now().Sub(start) - timing.Assembly - timing.Guardrail
			timing.Total = d.now().Sub(start)
			res := Resolution{
				TurnID:       turn.ID,
				MatchedLayer: types.LayerAction,
				Response:     result.Response,
				ActionID:     m.Action.ID,
				Degraded:     lz.degraded,
				Timing:       timing,
			}
			d.finalize(ctx, turn, lz, &res)
			return res
		}
		// A matched action whose handler failed falls through to
		// generation; the model can still help with the request.
		d.logger.Warn("action dispatch failed, falling through",
			"action", m.Action.ID, "error", err)
	}

	// L3: generation.
	return d.generate(ctx, turn, lz, safetyNote, timing, start)
}

// assemble runs the Layer 0 context fan-out. Identity resolves first (the
// other legs key off the resolved user); the rest run concurrently. Every
// leg degrades to a neutral default on failure.
func (d *Driver) assemble(ctx context.Context, turn types.Turn) layerZero {
	lz := layerZero{}

	ident, err := d.deps.Identity.Resolve(ctx, turn.SessionID, turn.SpeakerID, nil)
	if err != nil {
		d.logger.Warn("identity resolution failed, treating as guest", "error", err)
		lz.degraded = append(lz.degraded, "identity")
		ident = profile.Identity{Method: "guest"}
	}
	lz.identity = ident

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if d.deps.Profiles == nil || ident.UserID == "" {
			return nil
		}
		state, err := d.deps.Profiles.GetEmotional(gctx, ident.UserID)
		if err != nil {
			d.logger.Warn("emotional profile lookup failed", "user", ident.UserID, "error", err)
			lz.degraded = append(lz.degraded, "emotional")
			return nil
		}
		lz.emotional = state
		return nil
	})

	g.Go(func() error {
		if d.deps.Sentiment == nil {
			return nil
		}
		lz.sentiment = d.deps.Sentiment.Analyze(turn.Text)
		return nil
	})

	g.Go(func() error {
		if d.deps.Spatial == nil {
			return nil
		}
		if turn.AreaHint != "" {
			lz.area = spatial.Area{Name: turn.AreaHint, Confidence: 1, Source: "hint"}
			return nil
		}
		lz.area = d.deps.Spatial.Resolve(gctx, turn.SatelliteID, ident.UserID, nil)
		return nil
	})

	g.Go(func() error {
		if d.deps.Memories == nil {
			return nil
		}
		hctx, cancel := context.WithTimeout(gctx, hotQueryTimeout)
		defer cancel()
		lz.memories = d.deps.Memories.Search(hctx, turn.Text, memory.AccessFilter{
			OwnerID:       ident.UserID,
			HouseholdOnly: ident.UserID == "" || ident.LowConfidence,
		})
		return nil
	})

	// The legs never return errors; Wait is a join point.
	_ = g.Wait()
	return lz
}

// blockedResolution builds the guardrail-stopped outcome. A crisis match
// carries the pre-written support text; hard blocks get the canned refusal
// and soft blocks a redirect. Model tokens never reach the caller.
func (d *Driver) blockedResolution(turn types.Turn, lz layerZero, in guardrail.InputResult, timing Timing, start time.Time) Resolution {
	response := softBlockResponse
	reason := in.Verdict.Category
	switch {
	case in.Response != "":
		response = in.Response
	case in.Verdict.Severity >= guardrail.SeverityHardBlock:
		response = hardBlockResponse
	case in.Drift == guardrail.DriftSoftBlock && reason == "":
		reason = "conversation_drift"
	}
	timing.Total = d.now().Sub(start)
	return Resolution{
		TurnID:       turn.ID,
		MatchedLayer: types.LayerBlocked,
		Response:     response,
		BlockReason:  reason,
		Degraded:     lz.degraded,
		Timing:       timing,
	}
}

// generate starts the L3 stream and forwards its events, finalizing the
// turn once the stream closes.
func (d *Driver) generate(ctx context.Context, turn types.Turn, lz layerZero, safetyNote string, timing Timing, start time.Time) Resolution {
	system := d.systemPrompt
	if safetyNote != "" {
		system += "\n\n" + safetyNote
	}

	snippets := make([]string, 0, len(lz.memories))
	for _, hit := range lz.memories {
		snippets = append(snippets, hit.Record.Text)
	}

	current := types.Message{Role: "user", Content: turn.Text}
	if lz.identity.Profile != nil {
		current.Name = lz.identity.Profile.Name
	}

	prompt := d.deps.Assembler.Assemble(turn.SessionID, assembler.Input{
		SessionID:       turn.SessionID,
		System:          system,
		ProfileSnapshot: d.profileSnapshot(lz),
		Memory:          snippets,
		Current:         current,
	})

	stream := d.deps.Orchestrator.Generate(ctx, orchestrator.Request{
		SessionID:           turn.SessionID,
		SystemPrompt:        prompt.SystemPrompt,
		Messages:            prompt.Messages,
		UserText:            turn.Text,
		UserID:              lz.identity.UserID,
		Temperature:         turn.Temperature,
		PredictedConfidence: predictAnswerConfidence(turn.Text, len(lz.memories)),
		Role:                turn.RoleHint,
	})
	d.track(turn.SessionID, stream, turn.Text)

	timing.Resolve = d.now().Sub(start) - timing.Assembly - timing.Guardrail
	timing.Total = d.now().Sub(start)

	out := make(chan orchestrator.Event, 32)
	res := Resolution{
		TurnID:       turn.ID,
		MatchedLayer: types.LayerLLM,
		Events:       out,
		Stream:       stream,
		Degraded:     lz.degraded,
		Timing:       timing,
	}

	// Fillers pass through live; model text is held back until the output
	// safety pass has seen the complete response. A blocked response is
	// replaced whole, so no model token ever reaches the caller.
	go func() {
		defer close(out)
		defer d.untrack(turn.SessionID, stream)
		var full strings.Builder
		var pending []orchestrator.Event
		for ev := range stream.Events {
			if ev.Filler {
				out <- ev
				continue
			}
			full.WriteString(ev.Text)
			pending = append(pending, ev)
		}
		final := res
		final.Response = full.String()
		d.auditOutput(ctx, turn, lz, &final, pending, out)
		d.finalize(ctx, turn, lz, &final)
	}()
	return res
}

// auditOutput runs the output safety pass over the complete response and
// decides what the caller receives: the buffered events on pass, redacted
// text on a PII leak, a canned replacement on a block, a hedge note on an
// advice warning.
func (d *Driver) auditOutput(ctx context.Context, turn types.Turn, lz layerZero, res *Resolution, pending []orchestrator.Event, out chan<- orchestrator.Event) {
	if res.Response == "" {
		forwardEvents(out, pending)
		return
	}

	tier := profile.TierStrict
	if lz.identity.Profile != nil {
		tier = lz.identity.Tier(d.now())
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	verdict := d.deps.Guard.CheckOutput(actx, turn.SessionID, lz.identity.UserID, res.Response, string(tier))

	switch {
	case verdict.Severity >= guardrail.SeverityHardBlock:
		d.logger.Warn("model output blocked",
			"turn", turn.ID, "category", verdict.Category)
		d.replaceResponse(res, hardBlockResponse, verdict.Category, out)
	case verdict.Severity == guardrail.SeveritySoftBlock && verdict.Category == "pii_leakage":
		redacted, _ := d.redactor.Redact(res.Response)
		res.Response = redacted
		out <- orchestrator.Event{Text: redacted}
		out <- orchestrator.Event{FinishReason: finishReasonOf(pending)}
	case verdict.Severity == guardrail.SeveritySoftBlock:
		d.logger.Warn("model output blocked",
			"turn", turn.ID, "category", verdict.Category)
		d.replaceResponse(res, softBlockResponse, verdict.Category, out)
	case verdict.Severity == guardrail.SeverityWarn && verdict.Category == "medical_legal_hedging":
		res.Response += hedgeNote
		forwardWithTail(out, pending, hedgeNote)
	default:
		forwardEvents(out, pending)
	}
}

// replaceResponse swaps the whole generated response for canned text and
// marks the turn blocked. The buffered model events are dropped.
func (d *Driver) replaceResponse(res *Resolution, text, reason string, out chan<- orchestrator.Event) {
	res.MatchedLayer = types.LayerBlocked
	res.Response = text
	res.BlockReason = reason
	out <- orchestrator.Event{Text: text}
	out <- orchestrator.Event{FinishReason: "stop"}
}

func forwardEvents(out chan<- orchestrator.Event, pending []orchestrator.Event) {
	for _, ev := range pending {
		out <- ev
	}
}

// forwardWithTail forwards the buffered events with extra text inserted
// before the terminal event.
func forwardWithTail(out chan<- orchestrator.Event, pending []orchestrator.Event, tail string) {
	sent := false
	for _, ev := range pending {
		if !sent && ev.FinishReason != "" && ev.Err == nil {
			out <- orchestrator.Event{Text: tail}
			sent = true
		}
		out <- ev
	}
	if !sent {
		out <- orchestrator.Event{Text: tail}
	}
}

// finishReasonOf recovers the finish reason carried by the buffered
// events, defaulting to a clean stop.
func finishReasonOf(pending []orchestrator.Event) string {
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].FinishReason != "" {
			return pending[i].FinishReason
		}
	}
	return "stop"
}

func (d *Driver) track(sessionID string, s *orchestrator.Stream, text string) {
	d.mu.Lock()
	d.active[sessionID] = &liveStream{stream: s, text: text}
	d.mu.Unlock()
}

func (d *Driver) untrack(sessionID string, s *orchestrator.Stream) {
	d.mu.Lock()
	if ls := d.active[sessionID]; ls != nil && ls.stream == s {
		delete(d.active, sessionID)
	}
	d.mu.Unlock()
}

// deliberationHint marks open-ended questions that need real thinking
// before the first sentence can land.
var deliberationHint = regexp.MustCompile(`(?i)\b(why|how|explain|compare|what if|in depth|detail(ed)?)\b`)

// predictAnswerConfidence estimates how confidently generation can open
// the reply; low estimates make the filler selector append a thinking
// phrase. Long or open-ended questions start slower than short factual
// ones, and retrieved memory gives the opening something to stand on.
func predictAnswerConfidence(text string, memoryHits int) float64 {
	conf := 0.95
	if deliberationHint.MatchString(text) {
		conf -= 0.2
	}
	if len(strings.Fields(text)) > 24 {
		conf -= 0.1
	}
	if memoryHits > 0 {
		conf += 0.05
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// profileSnapshot renders the profile + spatial region of the prompt.
func (d *Driver) profileSnapshot(lz layerZero) string {
	var b strings.Builder
	if p := lz.identity.Profile; p != nil {
		fmt.Fprintf(&b, "Speaking with: %s (%s, identity confidence %.2f).\n",
			p.Name, lz.identity.Tier(d.now()), lz.identity.Confidence)
	} else {
		b.WriteString("Speaking with: an unrecognised guest. Share nothing personal.\n")
	}
	if lz.area.Name != "" {
		fmt.Fprintf(&b, "Location: %s.\n", lz.area.Name)
	}
	if lz.sentiment.Label != "" && lz.sentiment.Label != "neutral" {
		fmt.Fprintf(&b, "The speaker sounds %s right now.\n", lz.sentiment.Label)
	}
	if lz.emotional != nil && lz.emotional.Rapport != 0 {
		fmt.Fprintf(&b, "Rapport level with this speaker: %.2f.\n", lz.emotional.Rapport)
	}
	return strings.TrimRight(b.String(), "\n")
}

// finalize records the completed turn: conversation window append,
// guardrail pattern learning for blocked turns, interaction log, and COLD
// extraction enqueue. All legs are best-effort; failures are logged and
// dropped.
func (d *Driver) finalize(ctx context.Context, turn types.Turn, lz layerZero, res *Resolution) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if d.deps.Learner != nil && res.MatchedLayer == types.LayerBlocked && learnableCategory(res) {
		if err := d.deps.Learner.Learn(fctx, res.BlockReason, turn.Text); err != nil {
			d.logger.Warn("guardrail pattern learning failed", "turn", turn.ID, "error", err)
		}
	}

	if res.MatchedLayer != types.LayerBlocked {
		user := types.Message{Role: "user", Content: turn.Text}
		if lz.identity.Profile != nil {
			user.Name = lz.identity.Profile.Name
		}
		d.deps.Assembler.Append(fctx, turn.SessionID, user)
		d.deps.Assembler.Append(fctx, turn.SessionID,
			types.Message{Role: "assistant", Content: res.Response})
	}

	if d.deps.Interactions != nil {
		err := d.deps.Interactions.Append(fctx, memory.Interaction{
			ID:           turn.ID,
			UserID:       lz.identity.UserID,
			SessionID:    turn.SessionID,
			Channel:      string(turn.Channel),
			SatelliteID:  turn.SatelliteID,
			Input:        turn.Text,
			Response:     res.Response,
			MatchedLayer: string(res.MatchedLayer),
			Latency:      res.Timing.Total,
			CreatedAt:    turn.ReceivedAt,
		})
		if err != nil {
			d.logger.Warn("interaction log append failed", "turn", turn.ID, "error", err)
		}
	}

	// Only action and generation turns are extraction material: instant
	// answers and blocked turns carry nothing worth remembering, and
	// anonymous turns leave no long-term memory at all.
	extractable := res.MatchedLayer == types.LayerLLM || res.MatchedLayer == types.LayerAction
	if d.deps.Queue != nil && lz.identity.UserID != "" && extractable {
		err := d.deps.Queue.Enqueue(fctx, memory.Event{
			InteractionID: turn.ID,
			UserID:        lz.identity.UserID,
			SessionID:     turn.SessionID,
			Text:          turn.Text,
			EnqueuedAt:    turn.ReceivedAt,
		})
		if err != nil {
			d.logger.Warn("cold extraction enqueue failed", "turn", turn.ID, "error", err)
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveTurn(string(res.MatchedLayer), res.Timing)
	}
}

// learnableCategory filters which blocked turns feed the pattern learner.
// Drift and fail-closed blocks carry no attack phrasing to generalize,
// and crisis turns are support cases, not jailbreak attempts.
func learnableCategory(res *Resolution) bool {
	switch res.BlockReason {
	case "", "conversation_drift", "internal_error":
		return false
	}
	return res.Response != guardrail.CrisisResponse
}
