// Package action implements the direct-action layer: pattern-matched
// commands dispatched to integration handlers without model generation.
//
// Actions carry trigger patterns with named capture groups; a match extracts
// the groups as handler parameters. Match confidence combines the action's
// base confidence with a log-scaled hit count, so frequently used commands
// win ties against rarely used ones.
package action

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// matchThreshold is the minimum confidence for an action to claim a turn.
const matchThreshold = 0.6

// Action is one registered direct command.
type Action struct {
	// ID is the stable action identifier (e.g. "lights.toggle").
	ID string

	// Patterns are the compiled trigger expressions. Named capture groups
	// become handler parameters.
	Patterns []*regexp.Regexp

	// HandlerName references the integration handler to invoke.
	HandlerName string

	// Integration names the integration that must be connected for the
	// action to dispatch (empty for built-ins).
	Integration string

	// Domain is the policy domain used by the parental gate
	// (e.g. "lights", "media", "climate").
	Domain string

	// Template renders the response. {name} placeholders are filled from
	// the match parameters and {result} from the handler's return value.
	Template string

	// ConfidenceBase is the pattern author's confidence in [0, 1].
	ConfidenceBase float64

	// HitCount and LastHit feed match priority and persist via the store.
	HitCount int
	LastHit  time.Time
}

// Match is a successful registry lookup.
type Match struct {
	Action     *Action
	Params     map[string]string
	Confidence float64
}

// Handler executes one action with the extracted parameters and returns the
// result text substituted into the response template.
type Handler func(ctx context.Context, params map[string]string) (string, error)

// Registry holds the active action set and the integration handlers.
// Safe for concurrent use; the action slice is replaced whole on refresh.
type Registry struct {
	mu       sync.RWMutex
	actions  []*Action
	handlers map[string]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// SetActions replaces the active action set (store refresh, hot reload).
func (r *Registry) SetActions(actions []*Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = actions
}

// Actions returns the active set ordered by ID (admin surface).
func (r *Registry) Actions() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]*Action(nil), r.actions...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterHandler binds a handler name to its implementation. Integrations
// call this during startup.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Handler resolves a handler by name.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Match finds the best action for the text, above the confidence threshold.
// Ties are broken by most recent hit.
func (r *Registry) Match(text string) (Match, bool) {
	r.mu.RLock()
	actions := r.actions
	r.mu.RUnlock()

	normalized := normalize(text)
	var best Match
	found := false
	for _, a := range actions {
		for _, p := range a.Patterns {
			groups := p.FindStringSubmatch(normalized)
			if groups == nil {
				continue
			}
			conf := a.score()
			if conf < matchThreshold {
				continue
			}
			better := conf > best.Confidence ||
				(conf == best.Confidence && found && a.LastHit.After(best.Action.LastHit))
			if !found || better {
				best = Match{Action: a, Params: extractParams(p, groups), Confidence: conf}
				found = true
			}
			break
		}
	}
	return best, found
}

// score is the match priority: base confidence scaled up by recent usage,
// clamped to 1.
func (a *Action) score() float64 {
	s := a.ConfidenceBase * (1 + math.Log1p(float64(a.HitCount))/10)
	if s > 1 {
		s = 1
	}
	return s
}

func extractParams(p *regexp.Regexp, groups []string) map[string]string {
	params := make(map[string]string)
	for i, name := range p.SubexpNames() {
		if name != "" && i < len(groups) && groups[i] != "" {
			params[name] = groups[i]
		}
	}
	return params
}

// normalize lowercases and strips punctuation so trigger patterns stay
// simple.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '%':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// RenderTemplate fills {name} placeholders from params and {result} from the
// handler output.
func RenderTemplate(tpl string, params map[string]string, result string) string {
	out := strings.ReplaceAll(tpl, "{result}", result)
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// CompilePatterns compiles stored trigger expressions. Patterns run against
// normalized text (lowercased, punctuation stripped), so they never need
// case-insensitive flags.
func CompilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		p, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("action: compile pattern %q: %w", e, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}
