package assembler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// Schema is the SQL DDL for the checkpoint tables. Execute it via
// [PostgresStore.Migrate] during startup.
//
// The original turns a checkpoint replaces are archived on the row so
// expansion never depends on the live window.
const Schema = `
CREATE TABLE IF NOT EXISTS context_checkpoints (
    id             TEXT PRIMARY KEY,
    session_id     TEXT NOT NULL,
    summary        TEXT NOT NULL,
    decisions      JSONB NOT NULL DEFAULT '[]',
    open_questions JSONB NOT NULL DEFAULT '[]',
    entities       JSONB NOT NULL DEFAULT '[]',
    topics         JSONB NOT NULL DEFAULT '[]',
    turn_start     INT NOT NULL,
    turn_end       INT NOT NULL,
    turns          JSONB NOT NULL DEFAULT '[]',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_context_checkpoints_session ON context_checkpoints(session_id, turn_start);
CREATE TABLE IF NOT EXISTS context_metrics (
    id            BIGSERIAL PRIMARY KEY,
    session_id    TEXT NOT NULL,
    tokens_before INT NOT NULL,
    tokens_after  INT NOT NULL,
    checkpoint_id TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists checkpoints and compaction metrics.
type PostgresStore struct {
	db DB
}

var (
	_ CheckpointStore = (*PostgresStore)(nil)
	_ MetricsSink     = (*PostgresStore)(nil)
)

// NewPostgresStore wraps the given connection or pool. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL; it is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("assembler: migrate: %w", err)
	}
	return nil
}

// SaveCheckpoint writes the checkpoint and archives the replaced turns.
// Checkpoints are immutable: a duplicate id is an error.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp Checkpoint, turns []types.Message) error {
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("assembler: marshal turns: %w", err)
	}
	marshal := func(v []string) []byte {
		if v == nil {
			v = []string{}
		}
		b, _ := json.Marshal(v)
		return b
	}
	const query = `
		INSERT INTO context_checkpoints
			(id, session_id, summary, decisions, open_questions, entities, topics, turn_start, turn_end, turns, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.db.Exec(ctx, query,
		cp.ID, cp.SessionID, cp.Summary,
		marshal(cp.Decisions), marshal(cp.OpenQuestions), marshal(cp.Entities), marshal(cp.Topics),
		cp.TurnStart, cp.TurnEnd, turnsJSON, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("assembler: save checkpoint %q: %w", cp.ID, err)
	}
	return nil
}

// ListCheckpoints returns a session's checkpoints ordered by turn range.
func (s *PostgresStore) ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	const query = `
		SELECT id, session_id, summary, decisions, open_questions, entities, topics, turn_start, turn_end, created_at
		FROM context_checkpoints WHERE session_id = $1 ORDER BY turn_start`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assembler: list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var decisions, open, entities, topics []byte
		if err := rows.Scan(
			&cp.ID, &cp.SessionID, &cp.Summary, &decisions, &open, &entities, &topics,
			&cp.TurnStart, &cp.TurnEnd, &cp.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("assembler: list checkpoints scan: %w", err)
		}
		for _, pair := range []struct {
			raw []byte
			dst *[]string
		}{
			{decisions, &cp.Decisions}, {open, &cp.OpenQuestions},
			{entities, &cp.Entities}, {topics, &cp.Topics},
		} {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, fmt.Errorf("assembler: unmarshal checkpoint field: %w", err)
			}
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assembler: list checkpoints: %w", err)
	}
	return checkpoints, nil
}

// TurnsInRange returns the archived turns covering [start, end].
func (s *PostgresStore) TurnsInRange(ctx context.Context, sessionID string, start, end int) ([]types.Message, error) {
	const query = `
		SELECT turns FROM context_checkpoints
		WHERE session_id = $1 AND turn_start <= $2 AND turn_end >= $3
		ORDER BY turn_start`

	rows, err := s.db.Query(ctx, query, sessionID, end, start)
	if err != nil {
		return nil, fmt.Errorf("assembler: turns in range: %w", err)
	}
	defer rows.Close()

	var turns []types.Message
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("assembler: turns in range scan: %w", err)
		}
		var batch []types.Message
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("assembler: unmarshal archived turns: %w", err)
		}
		turns = append(turns, batch...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assembler: turns in range: %w", err)
	}
	return turns, nil
}

// RecordCompaction writes one context_metrics row.
func (s *PostgresStore) RecordCompaction(ctx context.Context, sessionID string, tokensBefore, tokensAfter int, checkpointID string) error {
	const query = `
		INSERT INTO context_metrics (session_id, tokens_before, tokens_after, checkpoint_id)
		VALUES ($1,$2,$3,$4)`
	if _, err := s.db.Exec(ctx, query, sessionID, tokensBefore, tokensAfter, checkpointID); err != nil {
		return fmt.Errorf("assembler: record compaction: %w", err)
	}
	return nil
}
