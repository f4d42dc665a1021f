// Package postgres provides the PostgreSQL-backed implementation of the
// cortex memory store: the hybrid dense+sparse record index, the COLD
// extraction queue, and the interaction log.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 384)
//	if err != nil { … }
//	defer store.Close()
//
//	hits, _ := store.Index().SparseSearch(ctx, "coffee order", 50, filter)
//	_ = store.Queue().Enqueue(ctx, ev)
//	_ = store.Interactions().Append(ctx, in)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — memory records (hybrid index)
// ─────────────────────────────────────────────────────────────────────────────

// ddlRecords returns the memory_records DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlRecords(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
    id            TEXT         PRIMARY KEY,
    owner_id      TEXT         NOT NULL,
    type          TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    tags          JSONB        NOT NULL DEFAULT '[]',
    supersedes    TEXT         NOT NULL DEFAULT '',
    ttl_ns        BIGINT       NOT NULL DEFAULT 0,
    confidence    REAL         NOT NULL DEFAULT 0,
    source        TEXT         NOT NULL DEFAULT 'conversation',
    scope         TEXT         NOT NULL DEFAULT 'private',
    content_hash  TEXT         NOT NULL,
    embedding     vector(%d),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_seen     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_records_dedup
    ON memory_records (owner_id, type, content_hash);

CREATE INDEX IF NOT EXISTS idx_memory_records_owner
    ON memory_records (owner_id);

CREATE INDEX IF NOT EXISTS idx_memory_records_embedding
    ON memory_records USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_records_fts
    ON memory_records USING GIN (to_tsvector('english', text));
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// DDL — COLD extraction queue
// ─────────────────────────────────────────────────────────────────────────────

const ddlQueue = `
CREATE TABLE IF NOT EXISTS memory_queue (
    id              BIGSERIAL    PRIMARY KEY,
    interaction_id  TEXT         NOT NULL,
    user_id         TEXT         NOT NULL,
    session_id      TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    attempts        INT          NOT NULL DEFAULT 0,
    enqueued_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_queue_enqueued
    ON memory_queue (enqueued_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — interaction log
// ─────────────────────────────────────────────────────────────────────────────

const ddlInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
    id             TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL DEFAULT '',
    session_id     TEXT         NOT NULL,
    channel        TEXT         NOT NULL DEFAULT '',
    satellite_id   TEXT         NOT NULL DEFAULT '',
    input          TEXT         NOT NULL,
    response       TEXT         NOT NULL,
    matched_layer  TEXT         NOT NULL,
    latency_ns     BIGINT       NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interactions_session_created
    ON interactions (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_interactions_user
    ON interactions (user_id);
`

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embed provider's vector
// length. Changing it after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRecords(embeddingDimensions),
		ddlQueue,
		ddlInteractions,
		ddlBackupLog,
		ddlMemoryMetrics,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
