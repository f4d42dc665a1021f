package memory

import (
	"math"
	"sort"
)

// rrfK is the reciprocal rank fusion constant. The conventional value of 60
// keeps a handful of top positions from dominating the fused ordering.
const rrfK = 60

// FuseRRF merges dense and sparse result lists with reciprocal rank fusion:
// each record scores the sum of 1/(k+rank) over every list it appears in.
// The result is ordered by fused score descending; ties break on record ID so
// the ordering is deterministic. Fusion is commutative — swapping the input
// lists yields the same output.
func FuseRRF(dense, sparse []RankedRecord) []Hit {
	merged := make(map[string]*Hit, len(dense)+len(sparse))

	for _, rr := range dense {
		h := merged[rr.Record.ID]
		if h == nil {
			h = &Hit{Record: rr.Record}
			merged[rr.Record.ID] = h
		}
		h.DenseRank = rr.Rank
		h.Score += 1 / float64(rrfK+rr.Rank)
	}
	for _, rr := range sparse {
		h := merged[rr.Record.ID]
		if h == nil {
			h = &Hit{Record: rr.Record}
			merged[rr.Record.ID] = h
		}
		h.SparseRank = rr.Rank
		h.Score += 1 / float64(rrfK+rr.Rank)
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
