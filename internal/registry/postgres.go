package registry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Schema holds the DDL for the persisted role→model assignments.
// Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS model_config (
	role       TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of pgx used by the store. Satisfied by *pgxpool.Pool
// and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists model assignments so an admin model change
// survives a restart.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps db. Call Migrate before first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// SaveModelConfig upserts the given role assignments.
func (s *PostgresStore) SaveModelConfig(ctx context.Context, models map[types.Role]string) error {
	for role, model := range models {
		_, err := s.db.Exec(ctx, `
			INSERT INTO model_config (role, model, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (role) DO UPDATE SET
				model = EXCLUDED.model,
				updated_at = now()`,
			string(role), model)
		if err != nil {
			return fmt.Errorf("registry: save model config %q: %w", role, err)
		}
	}
	return nil
}

// LoadModelConfig returns the persisted assignments. An empty table
// yields an empty map.
func (s *PostgresStore) LoadModelConfig(ctx context.Context) (map[types.Role]string, error) {
	rows, err := s.db.Query(ctx, `SELECT role, model FROM model_config`)
	if err != nil {
		return nil, fmt.Errorf("registry: load model config: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Role]string)
	for rows.Next() {
		var role, model string
		if err := rows.Scan(&role, &model); err != nil {
			return nil, fmt.Errorf("registry: scan model config: %w", err)
		}
		out[types.Role(role)] = model
	}
	return out, rows.Err()
}
