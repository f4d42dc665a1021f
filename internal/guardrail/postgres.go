package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the guardrail tables. Execute it via
// [PostgresStore.Migrate] during startup.
const Schema = `
CREATE TABLE IF NOT EXISTS guardrail_events (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id    TEXT NOT NULL DEFAULT '',
    direction  TEXT NOT NULL,
    severity   TEXT NOT NULL,
    category   TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    input_text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_guardrail_events_session ON guardrail_events(session_id, created_at);
CREATE TABLE IF NOT EXISTS jailbreak_patterns (
    id          TEXT PRIMARY KEY,
    category    TEXT NOT NULL,
    source_text TEXT NOT NULL,
    expr        TEXT NOT NULL,
    hit_count   INT NOT NULL DEFAULT 0,
    last_hit_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS jailbreak_exemplars (
    id         TEXT PRIMARY KEY,
    text       TEXT NOT NULL,
    embedding  REAL[] NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS mistake_log (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    user_id     TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL,
    correction  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Mistake is a remembered correction the household gave the assistant,
// surfaced to future prompts so the same mistake is not repeated.
type Mistake struct {
	ID          string
	SessionID   string
	UserID      string
	Description string
	Correction  string
	CreatedAt   time.Time
}

// PostgresStore persists guardrail events, learned patterns, exemplars and
// the mistake log.
type PostgresStore struct {
	db DB
}

var (
	_ EventSink    = (*PostgresStore)(nil)
	_ PatternStore = (*PostgresStore)(nil)
)

// NewPostgresStore wraps the given connection or pool. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL; it is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("guardrail: migrate: %w", err)
	}
	return nil
}

// RecordEvent writes one audit row.
func (s *PostgresStore) RecordEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	const query = `
		INSERT INTO guardrail_events (id, session_id, user_id, direction, severity, category, reason, input_text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.db.Exec(ctx, query,
		ev.ID, ev.SessionID, ev.UserID, ev.Direction, ev.Severity.String(),
		ev.Category, ev.Reason, ev.Text, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("guardrail: record event: %w", err)
	}
	return nil
}

// RecentEvents lists the newest events for the admin surface.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, session_id, user_id, direction, severity, category, reason, input_text, created_at
		FROM guardrail_events ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("guardrail: recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var sevStr string
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.UserID, &ev.Direction, &sevStr,
			&ev.Category, &ev.Reason, &ev.Text, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("guardrail: recent events scan: %w", err)
		}
		sev, err := parseSeverity(sevStr)
		if err == nil {
			ev.Severity = sev
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("guardrail: recent events: %w", err)
	}
	return events, nil
}

// SavePattern stores a learned pattern.
func (s *PostgresStore) SavePattern(ctx context.Context, p LearnedPattern) error {
	if p.ID == "" || p.Expr == "" {
		return errors.New("guardrail: save pattern: id and expr required")
	}
	const query = `
		INSERT INTO jailbreak_patterns (id, category, source_text, expr, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET expr = EXCLUDED.expr`
	if _, err := s.db.Exec(ctx, query, p.ID, p.Category, p.Source, p.Expr, p.CreatedAt); err != nil {
		return fmt.Errorf("guardrail: save pattern %q: %w", p.ID, err)
	}
	return nil
}

// ListPatterns loads all learned patterns.
func (s *PostgresStore) ListPatterns(ctx context.Context) ([]LearnedPattern, error) {
	const query = `
		SELECT id, category, source_text, expr, hit_count, last_hit_at, created_at
		FROM jailbreak_patterns ORDER BY created_at`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("guardrail: list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		var lastHit *time.Time
		if err := rows.Scan(
			&p.ID, &p.Category, &p.Source, &p.Expr, &p.HitCount, &lastHit, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("guardrail: list patterns scan: %w", err)
		}
		if lastHit != nil {
			p.LastHitAt = *lastHit
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("guardrail: list patterns: %w", err)
	}
	return patterns, nil
}

// RecordHit bumps a pattern's hit counter.
func (s *PostgresStore) RecordHit(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE jailbreak_patterns SET hit_count = hit_count + 1, last_hit_at = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("guardrail: record hit %q: %w", id, err)
	}
	return nil
}

// DeletePattern retires a learned pattern.
func (s *PostgresStore) DeletePattern(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM jailbreak_patterns WHERE id = $1`, id); err != nil {
		return fmt.Errorf("guardrail: delete pattern %q: %w", id, err)
	}
	return nil
}

// SaveExemplar stores a jailbreak exemplar with its embedding.
func (s *PostgresStore) SaveExemplar(ctx context.Context, ex Exemplar) error {
	if ex.ID == "" || len(ex.Embedding) == 0 {
		return errors.New("guardrail: save exemplar: id and embedding required")
	}
	const query = `
		INSERT INTO jailbreak_exemplars (id, text, embedding) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, ex.ID, ex.Text, ex.Embedding); err != nil {
		return fmt.Errorf("guardrail: save exemplar %q: %w", ex.ID, err)
	}
	return nil
}

// ListExemplars loads all stored exemplars.
func (s *PostgresStore) ListExemplars(ctx context.Context) ([]Exemplar, error) {
	const query = `SELECT id, text, embedding FROM jailbreak_exemplars ORDER BY created_at`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("guardrail: list exemplars: %w", err)
	}
	defer rows.Close()

	var exemplars []Exemplar
	for rows.Next() {
		var ex Exemplar
		if err := rows.Scan(&ex.ID, &ex.Text, &ex.Embedding); err != nil {
			return nil, fmt.Errorf("guardrail: list exemplars scan: %w", err)
		}
		exemplars = append(exemplars, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("guardrail: list exemplars: %w", err)
	}
	return exemplars, nil
}

// LogMistake records a correction the household gave.
func (s *PostgresStore) LogMistake(ctx context.Context, m Mistake) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO mistake_log (id, session_id, user_id, description, correction)
		VALUES ($1,$2,$3,$4,$5)`
	if _, err := s.db.Exec(ctx, query, m.ID, m.SessionID, m.UserID, m.Description, m.Correction); err != nil {
		return fmt.Errorf("guardrail: log mistake: %w", err)
	}
	return nil
}

// RecentMistakes lists the newest corrections for a user, newest first.
func (s *PostgresStore) RecentMistakes(ctx context.Context, userID string, limit int) ([]Mistake, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, session_id, user_id, description, correction, created_at
		FROM mistake_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("guardrail: recent mistakes: %w", err)
	}
	defer rows.Close()

	var mistakes []Mistake
	for rows.Next() {
		var m Mistake
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Description, &m.Correction, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("guardrail: recent mistakes scan: %w", err)
		}
		mistakes = append(mistakes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("guardrail: recent mistakes: %w", err)
	}
	return mistakes, nil
}
