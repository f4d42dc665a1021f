package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
)

// Learner admission gate: a candidate pattern is rejected when it matches
// more than this fraction of the known-good corpus.
const learnerMaxFalsePositiveRate = 0.01

// learnerRetireAfter retires a learned pattern that has not hit in this
// window during consolidation.
const learnerRetireAfter = 30 * 24 * time.Hour

// LearnedPattern is a pattern derived from a confirmed jailbreak attempt.
type LearnedPattern struct {
	ID        string
	Category  string
	Source    string // the utterance the pattern was derived from
	Expr      string
	HitCount  int
	LastHitAt time.Time
	CreatedAt time.Time
}

// PatternStore persists learned patterns and exemplars.
type PatternStore interface {
	SavePattern(ctx context.Context, p LearnedPattern) error
	ListPatterns(ctx context.Context) ([]LearnedPattern, error)
	RecordHit(ctx context.Context, id string, at time.Time) error
	DeletePattern(ctx context.Context, id string) error
	SaveExemplar(ctx context.Context, ex Exemplar) error
	ListExemplars(ctx context.Context) ([]Exemplar, error)
}

// Learner generalizes confirmed jailbreak attempts into new detection
// patterns and exemplars, admitting them only when they stay quiet on a
// known-good corpus.
type Learner struct {
	store    PatternStore
	embedder embeddings.Provider
	engine   *Engine
	semantic *SemanticDetector
	// knownGood is a corpus of benign utterances a new pattern must not
	// match. It never shrinks at runtime.
	knownGood []string
	logger    *slog.Logger
	now       func() time.Time
}

// NewLearner constructs a learner feeding the given engine and semantic
// detector. knownGood is the benign corpus used by the admission gate.
func NewLearner(store PatternStore, embedder embeddings.Provider, engine *Engine, semantic *SemanticDetector, knownGood []string, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		store:     store,
		embedder:  embedder,
		engine:    engine,
		semantic:  semantic,
		knownGood: knownGood,
		logger:    logger,
		now:       time.Now,
	}
}

// Learn ingests one confirmed jailbreak attempt: it stores an embedding
// exemplar for paraphrase detection and, when the generalized pattern
// passes the false-positive gate, admits it into the active rule set.
func (l *Learner) Learn(ctx context.Context, category, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("guardrail: learn: empty utterance")
	}

	if err := l.addExemplar(ctx, text); err != nil {
		l.logger.Warn("failed to store jailbreak exemplar", "error", err)
	}

	expr, ok := generalizePattern(text)
	if !ok {
		l.logger.Debug("utterance too short to generalize", "category", category)
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("guardrail: learn: compile %q: %w", expr, err)
	}

	// Re-learning is a no-op: once admitted, the pattern itself blocks the
	// phrasing, and every such block reports back here.
	if existing, err := l.store.ListPatterns(ctx); err == nil {
		for _, p := range existing {
			if p.Expr == expr {
				return nil
			}
		}
	}

	if rate := falsePositiveRate(re, l.knownGood); rate > learnerMaxFalsePositiveRate {
		l.logger.Info("candidate pattern rejected by false-positive gate",
			"category", category, "rate", rate)
		return nil
	}

	p := LearnedPattern{
		ID:        uuid.NewString(),
		Category:  category,
		Source:    text,
		Expr:      expr,
		CreatedAt: l.now(),
	}
	if err := l.store.SavePattern(ctx, p); err != nil {
		return fmt.Errorf("guardrail: learn: save pattern: %w", err)
	}
	l.swapRules(ctx)
	l.logger.Info("admitted learned pattern", "category", category, "id", p.ID)
	return nil
}

// Consolidate retires patterns with no recent hits and rebuilds the active
// sets. Run from the scheduler.
func (l *Learner) Consolidate(ctx context.Context) error {
	patterns, err := l.store.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("guardrail: consolidate: list patterns: %w", err)
	}

	cutoff := l.now().Add(-learnerRetireAfter)
	for _, p := range patterns {
		last := p.LastHitAt
		if last.IsZero() {
			last = p.CreatedAt
		}
		if last.Before(cutoff) {
			if err := l.store.DeletePattern(ctx, p.ID); err != nil {
				l.logger.Warn("failed to retire pattern", "id", p.ID, "error", err)
				continue
			}
			l.logger.Info("retired stale learned pattern", "id", p.ID, "category", p.Category)
		}
	}

	l.swapRules(ctx)
	if l.semantic != nil {
		exemplars, err := l.store.ListExemplars(ctx)
		if err != nil {
			return fmt.Errorf("guardrail: consolidate: list exemplars: %w", err)
		}
		l.semantic.SetExemplars(exemplars)
	}
	return nil
}

func (l *Learner) addExemplar(ctx context.Context, text string) error {
	if l.embedder == nil {
		return nil
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	ex := Exemplar{ID: uuid.NewString(), Text: text, Embedding: vec}
	if err := l.store.SaveExemplar(ctx, ex); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if l.semantic != nil {
		exemplars, err := l.store.ListExemplars(ctx)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		l.semantic.SetExemplars(exemplars)
	}
	return nil
}

// swapRules rebuilds the engine rule set from defaults plus all stored
// learned patterns.
func (l *Learner) swapRules(ctx context.Context) {
	if l.engine == nil {
		return
	}
	patterns, err := l.store.ListPatterns(ctx)
	if err != nil {
		l.logger.Warn("failed to rebuild rule set", "error", err)
		return
	}
	rules := append([]Rule(nil), defaultRules()...)
	for _, p := range patterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			l.logger.Warn("skipping invalid stored pattern", "id", p.ID, "error", err)
			continue
		}
		rules = append(rules, Rule{
			Category: p.Category,
			Severity: SeveritySoftBlock,
			Pattern:  re,
		})
	}
	l.engine.SwapRules(&RuleSet{rules: rules})
}

// fillerWords are dropped entirely when generalizing; contentStopWords keep
// their position but become wildcards.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "please": true, "just": true,
	"really": true, "very": true, "so": true, "now": true,
}

// generalizePattern turns a confirmed attempt into a candidate regex by
// keeping the verbs and structure words literal and wildcarding likely
// nouns (long open-class tokens). Returns ok=false when too little
// structure survives to make a meaningful pattern.
func generalizePattern(text string) (string, bool) {
	tokens := tokenizeUtterance(text)
	var parts []string
	literals := 0
	for _, tok := range tokens {
		if fillerWords[tok] {
			continue
		}
		if isLikelyNoun(tok) {
			parts = append(parts, `\w+`)
			continue
		}
		parts = append(parts, regexp.QuoteMeta(tok))
		literals++
	}
	if literals < 3 {
		return "", false
	}
	return `(?i)\b` + strings.Join(parts, `\W+`) + `\b`, true
}

// isLikelyNoun is a crude open-class heuristic: long tokens that are not in
// the structural vocabulary get wildcarded so the pattern survives synonym
// substitution.
func isLikelyNoun(tok string) bool {
	if structuralVocab[tok] {
		return false
	}
	return len(tok) >= 6
}

// structuralVocab holds the closed-class and attack-verb tokens that stay
// literal no matter their length.
var structuralVocab = map[string]bool{
	"ignore": true, "disregard": true, "forget": true, "pretend": true,
	"reveal": true, "bypass": true, "override": true, "previous": true,
	"instructions": true, "restrictions": true, "guidelines": true,
	"system": true, "prompt": true, "hidden": true, "unfiltered": true,
	"jailbroken": true, "without": true, "anything": true,
}

func tokenizeUtterance(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// falsePositiveRate is the fraction of the benign corpus the pattern
// matches. An empty corpus rejects everything: with no evidence of safety
// the gate stays shut.
func falsePositiveRate(re *regexp.Regexp, corpus []string) float64 {
	if len(corpus) == 0 {
		return 1
	}
	hits := 0
	for _, s := range corpus {
		if re.MatchString(s) {
			hits++
		}
	}
	return float64(hits) / float64(len(corpus))
}
