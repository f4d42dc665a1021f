package guardrail

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// CrisisResponse is the pre-written reply returned verbatim when a crisis
// category matches. Crisis turns never reach a model.
const CrisisResponse = "I'm really sorry you're feeling this way. You don't have to go " +
	"through this alone — please reach out to someone you trust, or call or text 988 " +
	"to talk with someone right now. They're there for you, any time."

// InputResult is the outcome of the input pass for one turn.
type InputResult struct {
	Verdict Verdict
	// Drift carries the drift monitor's decision for this turn.
	Drift DriftAction
	// Response is set when the engine supplies the reply itself (crisis).
	Response string
}

// Blocked reports whether the turn must not proceed to generation.
func (r InputResult) Blocked() bool {
	return r.Verdict.Severity >= SeveritySoftBlock || r.Drift == DriftSoftBlock
}

// EventSink records guardrail decisions for audit. Recording failures are
// logged, never surfaced to the turn.
type EventSink interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// Event is one audit row.
type Event struct {
	ID        string
	SessionID string
	UserID    string
	Direction string // "input" or "output"
	Severity  Severity
	Category  string
	Reason    string
	Text      string
	CreatedAt time.Time
}

// Engine runs the input and output passes. The rule set is swapped whole
// (hot reload, learner admissions); detection itself is lock-free.
type Engine struct {
	rules    atomic.Pointer[RuleSet]
	semantic *SemanticDetector
	drift    *DriftMonitor
	sink     EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEventSink records decisions to the given sink.
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithSemanticDetector enables embedding-based injection detection.
func WithSemanticDetector(d *SemanticDetector) EngineOption {
	return func(e *Engine) { e.semantic = d }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine constructs an engine over the given rule set.
func NewEngine(rules *RuleSet, opts ...EngineOption) *Engine {
	e := &Engine{
		drift:  NewDriftMonitor(),
		logger: slog.Default(),
		now:    time.Now,
	}
	e.rules.Store(rules)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SwapRules replaces the active rule set atomically. In-flight checks keep
// the set they started with.
func (e *Engine) SwapRules(rules *RuleSet) {
	e.rules.Store(rules)
}

// Rules returns the active rule set.
func (e *Engine) Rules() *RuleSet {
	return e.rules.Load()
}

// Drift exposes the drift monitor (session teardown, admin surface).
func (e *Engine) Drift() *DriftMonitor {
	return e.drift
}

// CheckInput runs the full input pass: pattern rules over every
// deobfuscation variant, the semantic detector, then the drift monitor.
// The pass fails closed: an internal error is reported as a soft block.
func (e *Engine) CheckInput(ctx context.Context, sessionID, userID, text string) InputResult {
	res := InputResult{Verdict: Verdict{Severity: SeverityPass}}
	rules := e.rules.Load()

	for _, variant := range Variants(text) {
		rule, ok := rules.Match(variant)
		if !ok {
			continue
		}
		if rule.Severity > res.Verdict.Severity {
			res.Verdict = Verdict{
				Severity: rule.Severity,
				Category: rule.Category,
				Reason:   "matched " + rule.Category,
				Crisis:   rule.Crisis,
			}
			if variant != text {
				res.Verdict.Variant = variant
				res.Verdict.Reason += " (deobfuscated)"
			}
		}
	}

	if e.semantic != nil && res.Verdict.Severity < SeverityWarn {
		sev, reason, err := e.semantic.Check(ctx, text)
		switch {
		case err != nil:
			// Fail closed rather than let a detector outage open a gap.
			e.logger.Warn("semantic check failed, blocking turn", "error", err)
			res.Verdict = Verdict{
				Severity: SeveritySoftBlock,
				Category: "internal_error",
				Reason:   "semantic detector unavailable",
			}
		case sev > res.Verdict.Severity:
			res.Verdict = Verdict{Severity: sev, Category: "prompt_injection", Reason: reason}
		}
	}

	res.Drift = e.drift.Observe(sessionID, res.Verdict.Severity)
	if res.Drift == DriftSoftBlock && res.Verdict.Severity < SeveritySoftBlock {
		res.Verdict = Verdict{
			Severity: SeveritySoftBlock,
			Category: "conversation_drift",
			Reason:   "session escalation temperature exceeded",
		}
	}

	if res.Verdict.Crisis {
		res.Response = CrisisResponse
	}

	if res.Verdict.Severity > SeverityPass {
		e.record(ctx, sessionID, userID, "input", res.Verdict, text)
	}
	return res
}

// CheckOutput runs the output detectors for the given policy tier and
// records anything above pass.
func (e *Engine) CheckOutput(ctx context.Context, sessionID, userID, text, tier string) Verdict {
	verdict := evaluateOutput(text, tier)
	if verdict.Severity > SeverityPass {
		e.record(ctx, sessionID, userID, "output", verdict, text)
	}
	return verdict
}

func (e *Engine) record(ctx context.Context, sessionID, userID, direction string, v Verdict, text string) {
	if e.sink == nil {
		return
	}
	ev := Event{
		SessionID: sessionID,
		UserID:    userID,
		Direction: direction,
		Severity:  v.Severity,
		Category:  v.Category,
		Reason:    v.Reason,
		Text:      text,
		CreatedAt: e.now(),
	}
	if err := e.sink.RecordEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to record guardrail event",
			"session_id", sessionID, "category", v.Category, "error", err)
	}
}
