package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the action tables. Execute it via
// [PostgresStore.Migrate] during startup.
const Schema = `
CREATE TABLE IF NOT EXISTS command_patterns (
    id          TEXT PRIMARY KEY,
    patterns    JSONB NOT NULL DEFAULT '[]',
    handler     TEXT NOT NULL,
    integration TEXT NOT NULL DEFAULT '',
    domain      TEXT NOT NULL DEFAULT '',
    template    TEXT NOT NULL DEFAULT '{result}',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0.8,
    enabled     BOOLEAN NOT NULL DEFAULT true,
    hit_count   INT NOT NULL DEFAULT 0,
    last_hit_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ha_devices (
    entity_id  TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    area       TEXT NOT NULL DEFAULT '',
    domain     TEXT NOT NULL,
    aliases    JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ha_devices_area ON ha_devices(area);
CREATE TABLE IF NOT EXISTS satellites (
    id         TEXT PRIMARY KEY,
    area       TEXT NOT NULL DEFAULT '',
    last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// StoredAction is the persisted form of an [Action], with patterns as
// source expressions.
type StoredAction struct {
	ID          string
	Patterns    []string
	Handler     string
	Integration string
	Domain      string
	Template    string
	Confidence  float64
	Enabled     bool
	HitCount    int
	LastHit     time.Time
}

// Device is a smart-home device the action layer can target.
type Device struct {
	EntityID  string
	Name      string
	Area      string
	Domain    string
	Aliases   []string
	UpdatedAt time.Time
}

// PostgresStore persists command patterns and the device registry.
type PostgresStore struct {
	db DB
}

var _ HitRecorder = (*PostgresStore)(nil)

// NewPostgresStore wraps the given connection or pool. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL; it is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("action: migrate: %w", err)
	}
	return nil
}

// UpsertAction creates or replaces a stored action.
func (s *PostgresStore) UpsertAction(ctx context.Context, a StoredAction) error {
	if a.ID == "" || a.Handler == "" {
		return errors.New("action: upsert: id and handler required")
	}
	patJSON, err := json.Marshal(emptySlice(a.Patterns))
	if err != nil {
		return fmt.Errorf("action: marshal patterns: %w", err)
	}
	const query = `
		INSERT INTO command_patterns (id, patterns, handler, integration, domain, template, confidence, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			patterns = EXCLUDED.patterns,
			handler = EXCLUDED.handler,
			integration = EXCLUDED.integration,
			domain = EXCLUDED.domain,
			template = EXCLUDED.template,
			confidence = EXCLUDED.confidence,
			enabled = EXCLUDED.enabled`
	_, err = s.db.Exec(ctx, query,
		a.ID, patJSON, a.Handler, a.Integration, a.Domain, a.Template, a.Confidence, a.Enabled,
	)
	if err != nil {
		return fmt.Errorf("action: upsert %q: %w", a.ID, err)
	}
	return nil
}

// ListActions loads all enabled stored actions.
func (s *PostgresStore) ListActions(ctx context.Context) ([]StoredAction, error) {
	const query = `
		SELECT id, patterns, handler, integration, domain, template, confidence, enabled, hit_count, last_hit_at
		FROM command_patterns WHERE enabled ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("action: list: %w", err)
	}
	defer rows.Close()

	var actions []StoredAction
	for rows.Next() {
		var a StoredAction
		var patJSON []byte
		var lastHit *time.Time
		if err := rows.Scan(
			&a.ID, &patJSON, &a.Handler, &a.Integration, &a.Domain,
			&a.Template, &a.Confidence, &a.Enabled, &a.HitCount, &lastHit,
		); err != nil {
			return nil, fmt.Errorf("action: list scan: %w", err)
		}
		if err := json.Unmarshal(patJSON, &a.Patterns); err != nil {
			return nil, fmt.Errorf("action: unmarshal patterns: %w", err)
		}
		if lastHit != nil {
			a.LastHit = *lastHit
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action: list: %w", err)
	}
	return actions, nil
}

// SetEnabled toggles an action (admin surface).
func (s *PostgresStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE command_patterns SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("action: set enabled %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action: set enabled: no action %q", id)
	}
	return nil
}

// RecordActionHit bumps the hit counter for match priority.
func (s *PostgresStore) RecordActionHit(ctx context.Context, actionID string, at time.Time) error {
	const query = `
		UPDATE command_patterns SET hit_count = hit_count + 1, last_hit_at = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, actionID, at); err != nil {
		return fmt.Errorf("action: record hit %q: %w", actionID, err)
	}
	return nil
}

// PruneStale disables actions unused for the given window; run by the
// scheduler. Built-ins (hit_count 0 but recently created) are kept.
func (s *PostgresStore) PruneStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		UPDATE command_patterns SET enabled = false
		WHERE enabled AND hit_count > 0 AND last_hit_at < now() - $1::interval`
	tag, err := s.db.Exec(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("action: prune stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertDevice creates or updates a device registry entry.
func (s *PostgresStore) UpsertDevice(ctx context.Context, d Device) error {
	if d.EntityID == "" {
		return errors.New("action: upsert device: entity id required")
	}
	aliasJSON, err := json.Marshal(emptySlice(d.Aliases))
	if err != nil {
		return fmt.Errorf("action: marshal aliases: %w", err)
	}
	const query = `
		INSERT INTO ha_devices (entity_id, name, area, domain, aliases)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (entity_id) DO UPDATE SET
			name = EXCLUDED.name,
			area = EXCLUDED.area,
			domain = EXCLUDED.domain,
			aliases = EXCLUDED.aliases,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, d.EntityID, d.Name, d.Area, d.Domain, aliasJSON); err != nil {
		return fmt.Errorf("action: upsert device %q: %w", d.EntityID, err)
	}
	return nil
}

// GetDevice returns (nil, nil) when the entity is unknown.
func (s *PostgresStore) GetDevice(ctx context.Context, entityID string) (*Device, error) {
	const query = `
		SELECT entity_id, name, area, domain, aliases, updated_at
		FROM ha_devices WHERE entity_id = $1`

	var d Device
	var aliasJSON []byte
	err := s.db.QueryRow(ctx, query, entityID).Scan(
		&d.EntityID, &d.Name, &d.Area, &d.Domain, &aliasJSON, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("action: get device %q: %w", entityID, err)
	}
	if err := json.Unmarshal(aliasJSON, &d.Aliases); err != nil {
		return nil, fmt.Errorf("action: unmarshal aliases: %w", err)
	}
	return &d, nil
}

// ListDevices returns all devices, optionally filtered by area.
func (s *PostgresStore) ListDevices(ctx context.Context, area string) ([]Device, error) {
	query := `SELECT entity_id, name, area, domain, aliases, updated_at FROM ha_devices ORDER BY entity_id`
	args := []any{}
	if area != "" {
		query = `SELECT entity_id, name, area, domain, aliases, updated_at FROM ha_devices WHERE area = $1 ORDER BY entity_id`
		args = append(args, area)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("action: list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var aliasJSON []byte
		if err := rows.Scan(&d.EntityID, &d.Name, &d.Area, &d.Domain, &aliasJSON, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("action: list devices scan: %w", err)
		}
		if err := json.Unmarshal(aliasJSON, &d.Aliases); err != nil {
			return nil, fmt.Errorf("action: unmarshal aliases: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action: list devices: %w", err)
	}
	return devices, nil
}

// Satellite is a known room device: where it is installed and when it
// last announced.
type Satellite struct {
	ID       string
	Area     string
	LastSeen time.Time
}

// UpsertSatellite records an announce: the satellite's current area and
// the sighting time.
func (s *PostgresStore) UpsertSatellite(ctx context.Context, id, area string) error {
	if id == "" {
		return errors.New("action: upsert satellite: id required")
	}
	const query = `
		INSERT INTO satellites (id, area, last_seen)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			area = EXCLUDED.area,
			last_seen = now()`
	if _, err := s.db.Exec(ctx, query, id, area); err != nil {
		return fmt.Errorf("action: upsert satellite %q: %w", id, err)
	}
	return nil
}

// ListSatellites returns every satellite ever seen, most recent first.
func (s *PostgresStore) ListSatellites(ctx context.Context) ([]Satellite, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, area, last_seen FROM satellites ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("action: list satellites: %w", err)
	}
	defer rows.Close()

	var sats []Satellite
	for rows.Next() {
		var sat Satellite
		if err := rows.Scan(&sat.ID, &sat.Area, &sat.LastSeen); err != nil {
			return nil, fmt.Errorf("action: list satellites scan: %w", err)
		}
		sats = append(sats, sat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action: list satellites: %w", err)
	}
	return sats, nil
}

// LoadRegistry compiles all enabled stored actions into the registry.
func LoadRegistry(ctx context.Context, store interface {
	ListActions(ctx context.Context) ([]StoredAction, error)
}, registry *Registry) error {
	stored, err := store.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("action: load registry: %w", err)
	}
	actions := make([]*Action, 0, len(stored))
	for _, sa := range stored {
		if !sa.Enabled {
			continue
		}
		patterns, err := CompilePatterns(sa.Patterns)
		if err != nil {
			return err
		}
		actions = append(actions, &Action{
			ID:             sa.ID,
			Patterns:       patterns,
			HandlerName:    sa.Handler,
			Integration:    sa.Integration,
			Domain:         sa.Domain,
			Template:       sa.Template,
			ConfidenceBase: sa.Confidence,
			HitCount:       sa.HitCount,
			LastHit:        sa.LastHit,
		})
	}
	registry.SetActions(actions)
	return nil
}

// emptySlice ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
