package orchestrator

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// dedupThreshold: a continuation sentence at or above this normalized
// similarity to already-emitted text is dropped as a repeat.
const dedupThreshold = 0.85

// repairRatio: when at least this share of continuation sentences were
// removed, the seam gets one smoothing repair call.
const repairRatio = 0.20

// splitSentences breaks text on sentence terminators, keeping the
// terminator with the sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// normalizeSentence lowercases and strips punctuation for comparison.
func normalizeSentence(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// sentenceSimilarity is the normalized Jaro-Winkler similarity between two
// sentences.
func sentenceSimilarity(a, b string) float64 {
	na, nb := normalizeSentence(a), normalizeSentence(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return matchr.JaroWinkler(na, nb, false)
}

// dedupeContinuation drops continuation sentences that repeat emitted
// text and reports how many were removed.
func dedupeContinuation(emitted []string, continuation string) (kept []string, removed int) {
	for _, sentence := range splitSentences(continuation) {
		dup := false
		for _, prior := range emitted {
			if sentenceSimilarity(sentence, prior) >= dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			removed++
			continue
		}
		kept = append(kept, sentence)
	}
	return kept, removed
}

// needsRepair reports whether the removal rate crosses the repair ratio.
func needsRepair(kept []string, removed int) bool {
	total := len(kept) + removed
	if total == 0 {
		return false
	}
	return float64(removed)/float64(total) >= repairRatio
}
