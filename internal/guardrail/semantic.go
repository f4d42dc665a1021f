package guardrail

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
)

// semanticWarnThreshold is the cosine similarity to any stored exemplar at
// which the semantic injection detector warns.
const semanticWarnThreshold = 0.82

// Exemplar is a confirmed jailbreak utterance with its embedding, used for
// paraphrase detection the static patterns cannot cover.
type Exemplar struct {
	ID        string
	Text      string
	Embedding []float32
}

// SemanticDetector scores input against jailbreak exemplars via embedding
// similarity. Safe for concurrent use; the exemplar slice is swapped whole.
type SemanticDetector struct {
	embedder embeddings.Provider

	mu        sync.RWMutex
	exemplars []Exemplar
}

// NewSemanticDetector constructs a detector with an initial exemplar set.
func NewSemanticDetector(embedder embeddings.Provider, exemplars []Exemplar) *SemanticDetector {
	return &SemanticDetector{embedder: embedder, exemplars: exemplars}
}

// SetExemplars replaces the exemplar set (copy-on-write).
func (d *SemanticDetector) SetExemplars(exemplars []Exemplar) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exemplars = exemplars
}

// Score returns the best similarity against the exemplar set and the
// matched exemplar id. A detector without exemplars or embedder scores 0.
func (d *SemanticDetector) Score(ctx context.Context, text string) (float64, string, error) {
	d.mu.RLock()
	exemplars := d.exemplars
	d.mu.RUnlock()
	if d.embedder == nil || len(exemplars) == 0 {
		return 0, "", nil
	}

	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return 0, "", fmt.Errorf("guardrail: embed input: %w", err)
	}

	best := 0.0
	bestID := ""
	for _, ex := range exemplars {
		if s := cosine32(vec, ex.Embedding); s > best {
			best = s
			bestID = ex.ID
		}
	}
	return best, bestID, nil
}

// Check applies the warn threshold.
func (d *SemanticDetector) Check(ctx context.Context, text string) (Severity, string, error) {
	score, id, err := d.Score(ctx, text)
	if err != nil {
		return SeverityPass, "", err
	}
	if score >= semanticWarnThreshold {
		return SeverityWarn, fmt.Sprintf("semantic similarity %.2f to exemplar %s", score, id), nil
	}
	return SeverityPass, "", nil
}

func cosine32(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
