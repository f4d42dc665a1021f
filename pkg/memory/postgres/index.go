package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/atlas-assistant/cortex/pkg/memory"
)

// IndexImpl is the hybrid record index backed by a single memory_records
// table: a pgvector HNSW index serves dense search and a GIN tsvector index
// serves sparse search. Both sides are written by one Upsert, so they can
// never diverge.
//
// Obtain one via [Store.Index] rather than constructing directly.
// All methods are safe for concurrent use.
type IndexImpl struct {
	pool *pgxpool.Pool
}

// liveClause excludes superseded and expired records. A record is superseded
// when any other record names it in its supersedes column; the chain is
// resolved here at query time so writers never touch old rows.
const liveClause = `
    NOT EXISTS (
        SELECT 1 FROM memory_records n WHERE n.supersedes = r.id
    )
    AND (r.ttl_ns = 0 OR now() < r.created_at + r.ttl_ns * interval '1 nanosecond')`

// accessClause renders the scope restriction for filter, appending bind
// arguments via next.
func accessClause(filter memory.AccessFilter, next func(v any) string) string {
	if filter.OwnerID == "" || filter.HouseholdOnly {
		return "r.scope IN ('public', 'household')"
	}
	return fmt.Sprintf(
		"(r.scope IN ('public', 'household') OR (r.scope = 'private' AND r.owner_id = %s))",
		next(filter.OwnerID),
	)
}

// DenseSearch implements [memory.Index]. Results are ordered by ascending
// cosine distance (most similar first); ranks are assigned 1-based in that
// order.
func (s *IndexImpl) DenseSearch(ctx context.Context, embedding []float32, topN int, filter memory.AccessFilter) ([]memory.RankedRecord, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	access := accessClause(filter, next)
	args = append(args, topN)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_records r
		WHERE  %s
		  AND  %s
		  AND  r.embedding IS NOT NULL
		ORDER  BY r.embedding <=> $1
		LIMIT  %s`, recordColumns, access, liveClause, limitArg)

	return s.queryRanked(ctx, q, args)
}

// SparseSearch implements [memory.Index]. It matches query against the
// full-text index with plainto_tsquery and orders by ts_rank descending.
func (s *IndexImpl) SparseSearch(ctx context.Context, query string, topN int, filter memory.AccessFilter) ([]memory.RankedRecord, error) {
	args := []any{query} // $1 = text query
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	access := accessClause(filter, next)
	args = append(args, topN)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s
		FROM   memory_records r
		WHERE  %s
		  AND  %s
		  AND  to_tsvector('english', r.text) @@ plainto_tsquery('english', $1)
		ORDER  BY ts_rank(to_tsvector('english', r.text), plainto_tsquery('english', $1)) DESC
		LIMIT  %s`, recordColumns, access, liveClause, limitArg)

	return s.queryRanked(ctx, q, args)
}

// Upsert implements [memory.Index]. The (owner_id, type, content_hash)
// unique index makes re-observed content bump last_seen instead of inserting
// a second row. The xmax system column distinguishes insert from update.
func (s *IndexImpl) Upsert(ctx context.Context, rec memory.Record) (bool, error) {
	const q = `
		INSERT INTO memory_records
		    (id, owner_id, type, text, tags, supersedes, ttl_ns, confidence,
		     source, scope, content_hash, embedding, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (owner_id, type, content_hash) DO UPDATE SET
		    last_seen = GREATEST(memory_records.last_seen, EXCLUDED.last_seen)
		RETURNING (xmax = 0)`

	var vec any
	if len(rec.Embedding) > 0 {
		vec = pgvector.NewVector(rec.Embedding)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	var created bool
	err := s.pool.QueryRow(ctx, q,
		rec.ID,
		rec.OwnerID,
		string(rec.Type),
		rec.Text,
		tags,
		rec.Supersedes,
		int64(rec.TTL),
		rec.Confidence,
		string(rec.Source),
		string(rec.Scope),
		rec.ContentHash,
		vec,
		rec.CreatedAt,
		rec.LastSeen,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("memory index: upsert: %w", err)
	}
	return created, nil
}

// Get implements [memory.Index]. A missing ID returns (nil, nil).
func (s *IndexImpl) Get(ctx context.Context, id string) (*memory.Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM memory_records r WHERE r.id = $1`, recordColumns)

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("memory index: get: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory index: get: %w", err)
	}
	return &rec, nil
}

// recordColumns is the shared SELECT list for memory_records (alias r).
const recordColumns = `
	r.id, r.owner_id, r.type, r.text, r.tags, r.supersedes, r.ttl_ns,
	r.confidence, r.source, r.scope, r.content_hash, r.embedding,
	r.created_at, r.last_seen`

// scanRecord scans one memory_records row in recordColumns order.
func scanRecord(row pgx.CollectableRow) (memory.Record, error) {
	var (
		rec   memory.Record
		typ   string
		src   string
		scope string
		ttlNS int64
		vec   *pgvector.Vector
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&typ,
		&rec.Text,
		&rec.Tags,
		&rec.Supersedes,
		&ttlNS,
		&rec.Confidence,
		&src,
		&scope,
		&rec.ContentHash,
		&vec,
		&rec.CreatedAt,
		&rec.LastSeen,
	); err != nil {
		return memory.Record{}, err
	}
	rec.Type = memory.Type(typ)
	rec.Source = memory.Source(src)
	rec.Scope = memory.Scope(scope)
	rec.TTL = time.Duration(ttlNS)
	if vec != nil {
		rec.Embedding = vec.Slice()
	}
	return rec, nil
}

func (s *IndexImpl) queryRanked(ctx context.Context, q string, args []any) ([]memory.RankedRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory index: search: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("memory index: scan rows: %w", err)
	}

	ranked := make([]memory.RankedRecord, len(records))
	for i, rec := range records {
		ranked[i] = memory.RankedRecord{Record: rec, Rank: i + 1}
	}
	return ranked, nil
}
