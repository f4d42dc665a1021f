// Package hashed provides an in-process embeddings provider based on token
// feature hashing.
//
// It exists as a degraded fallback: when no embed backend is configured, the
// memory layer still needs vectors for dense retrieval and dedup, and the
// guardrail engine still needs exemplar similarity. Hashed vectors preserve
// lexical overlap (shared tokens land in shared buckets) but carry no semantic
// generalisation — "couch" and "sofa" do not map near each other. Deployments
// that care about retrieval quality should configure a real embed provider.
package hashed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when none is specified.
const DefaultDimensions = 384

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with token feature hashing.
// It is deterministic, allocation-light, and needs no network access.
// Provider is safe for concurrent use — it holds no mutable state.
type Provider struct {
	dims int
}

// New constructs a hashed Provider with the given vector length.
// A non-positive dims selects DefaultDimensions.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Provider{dims: dims}
}

// Embed implements embeddings.Provider. The returned vector is L2-normalised
// so cosine similarity degenerates to a dot product.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)

	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(p.dims))
		// Second hash bit decides the sign, which keeps colliding tokens
		// from always reinforcing each other.
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[idx] += sign

		// Hash token bigram-of-characters too, so short-word collisions
		// separate and similar spellings still overlap.
		for i := 0; i+1 < len(tok); i++ {
			h2 := fnv.New64a()
			h2.Write([]byte(tok[i : i+2]))
			s2 := h2.Sum64()
			vec[int(s2%uint64(p.dims))] += 0.5 * sign
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return "hashed-fnv64a"
}

// tokenize lower-cases text and splits it on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length in place. A zero vector is left as-is.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
