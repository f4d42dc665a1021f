package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/atlas-assistant/cortex/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Index            = (*IndexImpl)(nil)
	_ memory.Queue            = (*QueueImpl)(nil)
	_ memory.InteractionStore = (*InteractionStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed memory store. It holds a single
// [pgxpool.Pool] and exposes the three persistence surfaces:
//
//   - [Store.Index] returns an [IndexImpl] implementing [memory.Index]
//   - [Store.Queue] returns a [QueueImpl] implementing [memory.Queue]
//   - [Store.Interactions] returns an [InteractionStoreImpl] implementing
//     [memory.InteractionStore]
//
// All operations are safe for concurrent use.
type Store struct {
	pool         *pgxpool.Pool
	index        *IndexImpl
	queue        *QueueImpl
	interactions *InteractionStoreImpl
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the configured
// embed provider (e.g. 1536 for OpenAI text-embedding-3-small, 384 for the
// hashed fallback).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:         pool,
		index:        &IndexImpl{pool: pool},
		queue:        &QueueImpl{pool: pool},
		interactions: &InteractionStoreImpl{pool: pool},
	}, nil
}

// Index returns the hybrid record index implementation.
func (s *Store) Index() *IndexImpl { return s.index }

// Queue returns the COLD extraction queue implementation.
func (s *Store) Queue() *QueueImpl { return s.queue }

// Interactions returns the interaction log implementation.
func (s *Store) Interactions() *InteractionStoreImpl { return s.interactions }

// Pool exposes the underlying connection pool so that other domain stores
// (profiles, guardrail events, satellites, …) can share it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
