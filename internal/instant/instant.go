// Package instant implements the first resolution layer: deterministic
// answers produced in well under 50ms with no model call. Matchers run in a
// fixed order and the first hit resolves the turn; anything unmatched falls
// through to the action registry and generation layers.
package instant

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Kind identifies which instant matcher answered.
type Kind string

const (
	KindDateTime Kind = "datetime"
	KindArith    Kind = "arithmetic"
	KindIdentity Kind = "identity"
	KindGreeting Kind = "greeting"
	KindRecall   Kind = "recall"
	KindReprompt Kind = "reprompt"
)

// Answer is a resolved instant response.
type Answer struct {
	Kind Kind
	Text string
}

// SessionRecall supplies the active messages of the current session for the
// recent-memory matcher. Only in-session messages are consulted — long-term
// memory recall goes through the full pipeline.
type SessionRecall interface {
	// RecentMessages returns up to limit most recent messages, newest last.
	RecentMessages(sessionID string, limit int) []types.Message
}

// Resolver runs the ordered instant matchers. Safe for concurrent use.
type Resolver struct {
	now       func() time.Time
	recall    SessionRecall
	assistant string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithSessionRecall attaches the session message source for recall queries.
func WithSessionRecall(s SessionRecall) Option {
	return func(r *Resolver) { r.recall = s }
}

// WithAssistantName sets the name used in identity replies. Default "Atlas".
func WithAssistantName(name string) Option {
	return func(r *Resolver) { r.assistant = name }
}

// New constructs a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		now:       time.Now,
		assistant: "Atlas",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve runs the matchers in order. ok is false when no matcher applies
// and the turn should fall through. A turn with no usable text resolves
// to a prompt asking for input; there is nothing for the later layers to
// work with.
func (r *Resolver) Resolve(turn types.Turn) (Answer, bool) {
	norm := normalize(turn.Text)
	if norm == "" {
		return Answer{
			Kind: KindReprompt,
			Text: "I didn't catch that — what can I do for you?",
		}, true
	}

	if ans, ok := r.matchDateTime(norm); ok {
		return ans, true
	}
	if ans, ok := r.matchArithmetic(turn.Text); ok {
		return ans, true
	}
	if ans, ok := r.matchIdentity(norm); ok {
		return ans, true
	}
	if ans, ok := r.matchGreeting(norm); ok {
		return ans, true
	}
	if ans, ok := r.matchRecall(norm, turn.SessionID); ok {
		return ans, true
	}
	return Answer{}, false
}

// normalize lowercases and strips punctuation (apostrophes included, so
// "what's" matches "whats") for case- and punctuation-insensitive matching.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ── date/time ───────────────────────────────────────────────────────────────

var timePhrases = []string{
	"what time is it", "whats the time", "what is the time",
	"tell me the time", "current time",
}

var datePhrases = []string{
	"whats the date", "what is the date", "whats todays date",
	"what is todays date", "what day is it", "what day is today",
	"whats today", "what is today",
}

func (r *Resolver) matchDateTime(norm string) (Answer, bool) {
	now := r.now()
	if containsAny(norm, timePhrases) {
		return Answer{
			Kind: KindDateTime,
			Text: fmt.Sprintf("It's %s.", now.Format("3:04 PM")),
		}, true
	}
	if containsAny(norm, datePhrases) {
		return Answer{
			Kind: KindDateTime,
			Text: fmt.Sprintf("Today is %s, %s.", now.Format("Monday"), now.Format("January 2, 2006")),
		}, true
	}
	return Answer{}, false
}

// ── arithmetic ──────────────────────────────────────────────────────────────

// arithPrefixes are conversational wrappers stripped before evaluation.
var arithPrefixes = []string{
	"what is ", "whats ", "what's ", "calculate ", "compute ", "how much is ",
}

func (r *Resolver) matchArithmetic(raw string) (Answer, bool) {
	expr := strings.TrimSpace(strings.ToLower(raw))
	for _, p := range arithPrefixes {
		if strings.HasPrefix(expr, p) {
			expr = strings.TrimSpace(strings.TrimPrefix(expr, p))
			break
		}
	}
	expr = strings.TrimRight(expr, "?!. ")
	if !looksArithmetic(expr) {
		return Answer{}, false
	}
	v, err := evalArithmetic(expr)
	if err != nil {
		// Division by zero and malformed input fall through to generation,
		// which can explain the problem instead of erroring.
		return Answer{}, false
	}
	return Answer{
		Kind: KindArith,
		Text: fmt.Sprintf("%s = %s", expr, formatResult(v)),
	}, true
}

// ── identity / help ─────────────────────────────────────────────────────────

var identityPhrases = []string{
	"who are you", "what are you", "whats your name", "what is your name",
}

var helpPhrases = []string{
	"what can you do", "help me", "what do you do", "how do you work",
}

func (r *Resolver) matchIdentity(norm string) (Answer, bool) {
	if containsAny(norm, identityPhrases) {
		return Answer{
			Kind: KindIdentity,
			Text: fmt.Sprintf("I'm %s, your household assistant. I can answer questions, control devices, and remember the things you tell me.", r.assistant),
		}, true
	}
	if containsAny(norm, helpPhrases) {
		return Answer{
			Kind: KindIdentity,
			Text: "I can tell you the time, do quick maths, control lights and other devices, answer questions, and keep track of your preferences. Just ask.",
		}, true
	}
	return Answer{}, false
}

// ── greeting ────────────────────────────────────────────────────────────────

var greetingPhrases = []string{
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	"good night", "hiya", "morning", "evening",
}

func (r *Resolver) matchGreeting(norm string) (Answer, bool) {
	// Greetings must be the whole (short) utterance; "hello, can you..."
	// is a real request, not a greeting.
	if len(strings.Fields(norm)) > 3 {
		return Answer{}, false
	}
	matched := false
	for _, g := range greetingPhrases {
		if norm == g || strings.HasPrefix(norm, g+" ") {
			matched = true
			break
		}
	}
	if !matched {
		return Answer{}, false
	}

	hour := r.now().Hour()
	var reply string
	switch {
	case hour < 5:
		reply = "Hello — you're up late! How can I help?"
	case hour < 12:
		reply = "Good morning! How can I help?"
	case hour < 18:
		reply = "Good afternoon! What can I do for you?"
	default:
		reply = "Good evening! What can I do for you?"
	}
	return Answer{Kind: KindGreeting, Text: reply}, true
}

// ── recent-memory recall ────────────────────────────────────────────────────

var recallPhrases = []string{
	"what did i just say", "what did i say", "what did we talk about",
	"what were we talking about", "what was i saying",
}

func (r *Resolver) matchRecall(norm, sessionID string) (Answer, bool) {
	if !containsAny(norm, recallPhrases) {
		return Answer{}, false
	}
	if r.recall == nil {
		return Answer{
			Kind: KindRecall,
			Text: "We haven't talked about anything yet in this conversation.",
		}, true
	}

	msgs := r.recall.RecentMessages(sessionID, 6)
	var lastUser string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			lastUser = msgs[i].Content
			break
		}
	}
	if lastUser == "" {
		return Answer{
			Kind: KindRecall,
			Text: "We haven't talked about anything yet in this conversation.",
		}, true
	}
	return Answer{
		Kind: KindRecall,
		Text: fmt.Sprintf("You just said: %q", lastUser),
	}, true
}

func containsAny(norm string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
