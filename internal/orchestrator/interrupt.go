package orchestrator

import (
	"regexp"
	"strings"
)

// InterruptKind classifies a turn that arrives while generation is active.
type InterruptKind int

const (
	// InterruptNone: the new turn is unrelated input, not an interruption.
	InterruptNone InterruptKind = iota

	// InterruptStop: commit the partial response with a one-line ack.
	InterruptStop

	// InterruptRedirect: abandon generation and process the new turn.
	InterruptRedirect

	// InterruptClarify: pause, answer the question inline, resume.
	InterruptClarify

	// InterruptRefine: restart generation with the added constraint.
	InterruptRefine
)

func (k InterruptKind) String() string {
	switch k {
	case InterruptStop:
		return "stop"
	case InterruptRedirect:
		return "redirect"
	case InterruptClarify:
		return "clarify"
	case InterruptRefine:
		return "refine"
	default:
		return "none"
	}
}

var (
	stopPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(stop|enough|that's enough|never mind|nevermind|forget it|ok stop|okay stop|shut up|quiet)$`),
		regexp.MustCompile(`^(stop|enough) (talking|it|that|please)$`),
		regexp.MustCompile(`^(thanks|thank you),? (that's|thats) (enough|all|plenty)$`),
	}
	redirectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(actually|wait|no wait|hold on|instead)[, ]`),
		regexp.MustCompile(`^(forget that|scratch that|different question)[,. ]?`),
	}
	clarifyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(what does|what do you mean|what's|whats|who is|who's|whos) .*\?$`),
		regexp.MustCompile(`^(sorry|wait)[, ]+(what|who|which)\b`),
	}
	refinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(make it|keep it|but) (shorter|longer|simpler|quicker|brief)`),
		regexp.MustCompile(`^(shorter|simpler|slower|in (\w+ )?words?)( please)?$`),
		regexp.MustCompile(`^(and )?(skip|without) the \w+`),
	}
)

// ClassifyInterrupt maps a mid-generation turn to its interruption class.
// Matching is pattern-based on the normalized text.
func ClassifyInterrupt(text string) InterruptKind {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	if t == "" {
		return InterruptNone
	}
	for _, p := range stopPatterns {
		if p.MatchString(t) {
			return InterruptStop
		}
	}
	// Clarify before redirect: both classes can open with "wait", and the
	// clarify patterns are the more specific of the two.
	for _, p := range clarifyPatterns {
		if p.MatchString(t) {
			return InterruptClarify
		}
	}
	for _, p := range redirectPatterns {
		if p.MatchString(t) {
			return InterruptRedirect
		}
	}
	for _, p := range refinePatterns {
		if p.MatchString(t) {
			return InterruptRefine
		}
	}
	return InterruptNone
}

// StopAck is the one-line acknowledgement a stop interrupt gets while the
// partial response stays committed. No model call is made for it.
const StopAck = "Okay, stopping there."
