package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
)

// Defaults for the HOT retrieval path.
const (
	defaultCandidatesPerList = 50
	defaultRerankDepth       = 20
	defaultTopK              = 8
	defaultSearchTimeout     = 300 * time.Millisecond
)

// Searcher is the HOT retrieval path. It runs dense and sparse search
// concurrently against the shared index, fuses the result lists with
// reciprocal rank fusion, optionally reranks the head of the fused list by
// embedding cosine similarity, and returns the top hits.
//
// Search never returns an error: if the index or the embedder fails, the
// request degrades to whatever survives (sparse-only, dense-only, or empty).
type Searcher struct {
	index    Index
	embedder embeddings.Provider
	logger   *slog.Logger

	perList int
	rerank  int
	topK    int
	timeout time.Duration
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithTopK sets how many hits Search returns.
func WithTopK(k int) SearcherOption {
	return func(s *Searcher) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithCandidates sets how many candidates each of the dense and sparse
// searches contributes before fusion.
func WithCandidates(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 {
			s.perList = n
		}
	}
}

// WithRerankDepth sets how many fused candidates are rescored by embedding
// cosine similarity. Zero disables reranking.
func WithRerankDepth(n int) SearcherOption {
	return func(s *Searcher) {
		if n >= 0 {
			s.rerank = n
		}
	}
}

// WithSearchTimeout bounds a single Search call.
func WithSearchTimeout(d time.Duration) SearcherOption {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l *slog.Logger) SearcherOption {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher constructs a HOT-path Searcher over index, using embedder for
// the query vector and rerank scoring.
func NewSearcher(index Index, embedder embeddings.Provider, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		index:    index,
		embedder: embedder,
		logger:   slog.Default(),
		perList:  defaultCandidatesPerList,
		rerank:   defaultRerankDepth,
		topK:     defaultTopK,
		timeout:  defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search retrieves the memories most relevant to query for the given access
// filter. The returned slice is ordered by relevance and holds at most TopK
// hits. It is empty, never nil-dereferencing, on any failure.
func (s *Searcher) Search(ctx context.Context, query string, filter AccessFilter) []Hit {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		queryVec []float32
		dense    []RankedRecord
		sparse   []RankedRecord
	)

	// Dense search needs the query embedding first, so the two branches are
	// embed-then-dense and sparse. Either branch may fail without sinking the
	// other; the group is used for the join, not for error propagation.
	var g errgroup.Group
	g.Go(func() error {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("memory: query embedding failed, skipping dense search", "error", err)
			return nil
		}
		queryVec = vec
		res, err := s.index.DenseSearch(ctx, vec, s.perList, filter)
		if err != nil {
			s.logger.Warn("memory: dense search failed", "error", err)
			return nil
		}
		dense = res
		return nil
	})
	g.Go(func() error {
		res, err := s.index.SparseSearch(ctx, query, s.perList, filter)
		if err != nil {
			s.logger.Warn("memory: sparse search failed", "error", err)
			return nil
		}
		sparse = res
		return nil
	})
	_ = g.Wait()

	hits := FuseRRF(dense, sparse)
	if len(hits) == 0 {
		return nil
	}

	if s.rerank > 0 && queryVec != nil {
		hits = rerankByCosine(hits, queryVec, s.rerank)
	}

	if len(hits) > s.topK {
		hits = hits[:s.topK]
	}
	return hits
}

// rerankByCosine rescores the first depth hits by cosine similarity between
// the query vector and each record's stored embedding, then re-sorts that
// head. Hits beyond depth keep their fused order. Records without a stored
// embedding keep their fused score.
func rerankByCosine(hits []Hit, queryVec []float32, depth int) []Hit {
	if depth > len(hits) {
		depth = len(hits)
	}
	head := hits[:depth]
	for i := range head {
		if len(head[i].Record.Embedding) == 0 {
			continue
		}
		head[i].Score = CosineSimilarity(queryVec, head[i].Record.Embedding)
	}
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].Score > head[j].Score
	})
	return hits
}
