package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema holds the DDL for filler phrase persistence. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS filler_phrases (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	owner_id   TEXT NOT NULL DEFAULT '',
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of pgx used by the store. Satisfied by *pgxpool.Pool
// and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists filler phrases.
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
		return fmt.Errorf("orchestrator: migrate: %w", err)
	}
	return nil
}

// SaveFiller inserts or updates a phrase. A missing ID gets a generated one.
func (s *PostgresStore) SaveFiller(ctx context.Context, f Filler) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO filler_phrases (id, text, category, owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			category = EXCLUDED.category,
			owner_id = EXCLUDED.owner_id`,
		f.ID, f.Text, f.Category, f.OwnerID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: save filler: %w", err)
	}
	return f.ID, nil
}

// ListFillers returns all enabled phrases.
func (s *PostgresStore) ListFillers(ctx context.Context) ([]Filler, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, text, category, owner_id
		FROM filler_phrases
		WHERE enabled
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list fillers: %w", err)
	}
	defer rows.Close()

	var out []Filler
	for rows.Next() {
		var f Filler
		if err := rows.Scan(&f.ID, &f.Text, &f.Category, &f.OwnerID); err != nil {
			return nil, fmt.Errorf("orchestrator: scan filler: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFillerEnabled toggles a phrase without deleting its cached audio id.
func (s *PostgresStore) SetFillerEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE filler_phrases SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("orchestrator: set filler enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("orchestrator: filler %s not found", id)
	}
	return nil
}

// DeleteFiller removes a phrase.
func (s *PostgresStore) DeleteFiller(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM filler_phrases WHERE id = $1`, id); err != nil {
		return fmt.Errorf("orchestrator: delete filler: %w", err)
	}
	return nil
}

// LoadFillers refreshes the pool from the store.
func LoadFillers(ctx context.Context, store *PostgresStore, pool *FillerPool) error {
	fillers, err := store.ListFillers(ctx)
	if err != nil {
		return err
	}
	pool.SetFillers(fillers)
	return nil
}
