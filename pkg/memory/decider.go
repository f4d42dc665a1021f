package memory

import (
	"regexp"
	"strings"
)

// Decision is the outcome of classifying one utterance on the COLD path.
type Decision struct {
	// Store reports whether the utterance is worth persisting at all.
	// Chit-chat and trivial acknowledgements are dropped.
	Store bool

	// Type is the classified memory type when Store is true.
	Type Type

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64

	// Tags are topical labels extracted alongside the classification.
	Tags []string
}

// Decider classifies utterances into memory types with cheap lexical
// heuristics. It intentionally errs on the side of dropping: a missed memory
// costs a follow-up question later, a stored chit-chat line pollutes
// retrieval forever.
type Decider struct {
	preference *regexp.Regexp
	correction *regexp.Regexp
	decision   *regexp.Regexp
	fact       *regexp.Regexp
	mood       *regexp.Regexp
}

// NewDecider builds a Decider with the default pattern set.
func NewDecider() *Decider {
	return &Decider{
		preference: regexp.MustCompile(`(?i)\b(i (?:really )?(?:prefer|like|love|hate|dislike|enjoy|can't stand)|my favou?rite|i(?:'d| would) rather|i usually|i always|i never)\b`),
		correction: regexp.MustCompile(`(?i)\b(actually,?|no,? i meant|that's (?:wrong|not right)|i said|correction|not .+, i meant)\b`),
		decision:   regexp.MustCompile(`(?i)\b(let's|we(?:'ll| will)|i(?:'ll| will)|we (?:decided|agreed)|i(?:'ve| have) decided|from now on|going forward)\b`),
		fact:       regexp.MustCompile(`(?i)\b(my name is|i(?:'m| am) (?:a|an|from)|i live|i work|my (?:birthday|wife|husband|partner|son|daughter|dog|cat|car|job|sister|brother) (?:is|was|works)|i(?:'ve| have) (?:a|an|two|three))\b`),
		mood:       regexp.MustCompile(`(?i)\b(i(?:'m| am| feel) (?:so )?(?:tired|exhausted|happy|sad|stressed|anxious|angry|frustrated|excited|great|awful|sick|down|overwhelmed))\b`),
	}
}

// minStoreLength filters out utterances too short to carry reusable meaning.
const minStoreLength = 8

// Decide classifies text. Order matters: corrections beat preferences
// ("actually, I prefer tea" is a correction so the superseded record gets
// linked), moods beat facts.
func (d *Decider) Decide(text string) Decision {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minStoreLength {
		return Decision{}
	}

	switch {
	case d.correction.MatchString(trimmed):
		return Decision{Store: true, Type: TypeCorrection, Confidence: 0.8, Tags: topicTags(trimmed)}
	case d.preference.MatchString(trimmed):
		return Decision{Store: true, Type: TypePreference, Confidence: 0.85, Tags: topicTags(trimmed)}
	case d.mood.MatchString(trimmed):
		return Decision{Store: true, Type: TypeMood, Confidence: 0.7, Tags: topicTags(trimmed)}
	case d.decision.MatchString(trimmed):
		return Decision{Store: true, Type: TypeDecision, Confidence: 0.7, Tags: topicTags(trimmed)}
	case d.fact.MatchString(trimmed):
		return Decision{Store: true, Type: TypeFact, Confidence: 0.75, Tags: topicTags(trimmed)}
	}
	return Decision{}
}

// stopWords are excluded from topic tag extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "have": true, "will": true, "your": true, "from": true,
	"about": true, "really": true, "just": true, "like": true, "what": true,
	"when": true, "where": true, "would": true, "could": true, "should": true,
	"actually": true, "always": true, "never": true, "usually": true,
}

// topicTags pulls up to three distinctive lower-case words out of text to use
// as retrieval tags. It is deliberately crude; tags only assist browsing and
// analytics, retrieval itself is dense+sparse.
func topicTags(text string) []string {
	var tags []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()")
		if len(w) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
		if len(tags) == 3 {
			break
		}
	}
	return tags
}
