package orchestrator

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// recentFillerExclusion is how many recently used fillers per session are
// excluded from selection.
const recentFillerExclusion = 2

// confidenceFillerFloor: below this predicted answer confidence a
// "confidence" filler is appended to the selected phrase to buy extra
// thinking time.
const confidenceFillerFloor = 0.8

// Filler is one playable latency-masking phrase.
type Filler struct {
	// ID is stable across syncs so satellites can cache the audio.
	ID string

	// Text is the spoken phrase.
	Text string

	// Category is "general", "confidence", or "personal".
	Category string

	// OwnerID restricts a personal filler to one user; empty = shared.
	OwnerID string
}

// TurnKind classifies a turn for the filler decision.
type TurnKind int

const (
	TurnConversational TurnKind = iota
	TurnCommand
	TurnCasual
	TurnFollowUp
)

// defaultFillers is the built-in pool used when the store has none.
var defaultFillers = []Filler{
	{ID: "f-hmm", Text: "Hmm — ", Category: "general"},
	{ID: "f-letme", Text: "Let me see. ", Category: "general"},
	{ID: "f-goodq", Text: "Good question. ", Category: "general"},
	{ID: "f-sure", Text: "Sure — ", Category: "general"},
	{ID: "f-think", Text: "Let me think about that for a moment. ", Category: "confidence"},
	{ID: "f-check", Text: "Give me a second to check. ", Category: "confidence"},
}

// FillerPool selects fillers per session, excluding the most recently used
// and weighting towards phrases that have rested longest. Safe for
// concurrent use.
type FillerPool struct {
	now  func() time.Time
	rand *rand.Rand

	mu       sync.Mutex
	fillers  []Filler
	lastUsed map[string]time.Time
	recent   map[string][]string // sessionID → last used filler ids
}

// NewFillerPool constructs a pool seeded with the default phrases.
func NewFillerPool() *FillerPool {
	return &FillerPool{
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		fillers:  append([]Filler(nil), defaultFillers...),
		lastUsed: make(map[string]time.Time),
		recent:   make(map[string][]string),
	}
}

// SetFillers replaces the pool (store load, hot reload). The default pool
// is retained as fallback when the replacement is empty.
func (p *FillerPool) SetFillers(fillers []Filler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(fillers) == 0 {
		p.fillers = append([]Filler(nil), defaultFillers...)
		return
	}
	p.fillers = append([]Filler(nil), fillers...)
}

// Fillers returns the current pool (satellite SYNC_FILLERS).
func (p *FillerPool) Fillers() []Filler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Filler(nil), p.fillers...)
}

// Select picks a filler for the turn, or ok=false when the turn should not
// get one. userID scopes personal fillers. When predictedConfidence is
// below the floor a confidence phrase is appended to the selection; the
// returned filler then carries the combined text.
func (p *FillerPool) Select(sessionID, userID string, kind TurnKind, predictedConfidence float64) (Filler, bool) {
	if kind != TurnConversational {
		return Filler{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	chosen, ok := p.pickLocked(sessionID, userID, false, now)
	if predictedConfidence >= confidenceFillerFloor {
		return chosen, ok
	}

	conf, confOK := p.pickLocked(sessionID, userID, true, now)
	switch {
	case ok && confOK:
		chosen.Text += conf.Text
		return chosen, true
	case confOK:
		return conf, true
	default:
		return chosen, ok
	}
}

// pickLocked selects one phrase from the confidence or non-confidence
// partition, excluding recently used ids and weighting by rest time.
// Caller holds p.mu.
func (p *FillerPool) pickLocked(sessionID, userID string, confidence bool, now time.Time) (Filler, bool) {
	excluded := make(map[string]bool, recentFillerExclusion)
	for _, id := range p.recent[sessionID] {
		excluded[id] = true
	}

	var candidates []Filler
	var weights []float64
	for _, f := range p.fillers {
		if excluded[f.ID] {
			continue
		}
		if f.OwnerID != "" && f.OwnerID != userID {
			continue
		}
		if (f.Category == "confidence") != confidence {
			continue
		}
		candidates = append(candidates, f)
		weights = append(weights, restWeight(now, p.lastUsed[f.ID]))
	}
	if len(candidates) == 0 {
		return Filler{}, false
	}

	chosen := candidates[weightedIndex(p.rand, weights)]
	p.lastUsed[chosen.ID] = now
	recent := append(p.recent[sessionID], chosen.ID)
	if len(recent) > recentFillerExclusion {
		recent = recent[len(recent)-recentFillerExclusion:]
	}
	p.recent[sessionID] = recent
	return chosen, true
}

// restWeight grows with time since last use; never-used phrases get the
// highest weight.
func restWeight(now, last time.Time) float64 {
	if last.IsZero() {
		return 3600
	}
	sec := now.Sub(last).Seconds()
	if sec < 1 {
		sec = 1
	}
	if sec > 3600 {
		sec = 3600
	}
	return sec
}

func weightedIndex(r *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	pick := r.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

// followUpOpeners mark turns that continue the previous exchange.
var followUpOpeners = []string{
	"and ", "also ", "what about", "how about", "then ", "but ",
}

// casualPhrases never need a filler.
var casualPhrases = map[string]bool{
	"ok": true, "okay": true, "thanks": true, "thank you": true,
	"cool": true, "nice": true, "yes": true, "no": true, "sure": true,
	"hello": true, "hi": true, "hey": true, "good morning": true,
	"good night": true, "goodbye": true, "bye": true, "never mind": true,
}

// commandVerbs open imperative turns that expect immediate action.
var commandVerbs = map[string]bool{
	"turn": true, "switch": true, "set": true, "play": true, "stop": true,
	"pause": true, "resume": true, "open": true, "close": true, "dim": true,
	"start": true, "lock": true, "unlock": true, "remind": true, "add": true,
}

// ClassifyTurn decides whether a turn warrants a filler.
func ClassifyTurn(text string) TurnKind {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!?")
	if t == "" || casualPhrases[t] {
		return TurnCasual
	}
	for _, opener := range followUpOpeners {
		if strings.HasPrefix(t, opener) {
			return TurnFollowUp
		}
	}
	if fields := strings.Fields(t); len(fields) > 0 && commandVerbs[fields[0]] {
		return TurnCommand
	}
	if len(strings.Fields(t)) <= 2 {
		return TurnCasual
	}
	return TurnConversational
}
