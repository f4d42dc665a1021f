package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the profile tables. Execute it via
// [PostgresStore.Migrate] during startup.
//
// Speaker embeddings are stored as REAL[] rather than a pgvector column:
// a household has a handful of enrolled voices, so matching loads all
// prints and scores them in process — no index needed and no fixed
// dimension constraint.
const Schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    birth_year      INT NOT NULL DEFAULT 0,
    preferred_voice TEXT NOT NULL DEFAULT '',
    attributes      JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS speaker_profiles (
    user_id     TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
    embedding   REAL[] NOT NULL,
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_speaker_profiles_user ON speaker_profiles(user_id);
CREATE TABLE IF NOT EXISTS emotional_profiles (
    user_id          TEXT PRIMARY KEY REFERENCES user_profiles(id) ON DELETE CASCADE,
    rapport          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    last_interaction TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS parental_controls (
    child_id        TEXT PRIMARY KEY REFERENCES user_profiles(id) ON DELETE CASCADE,
    allowed_domains JSONB NOT NULL DEFAULT '[]',
    quiet_start     INT NOT NULL DEFAULT 0,
    quiet_end       INT NOT NULL DEFAULT 0,
    content_ceiling TEXT NOT NULL DEFAULT 'child',
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps the given connection or pool. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL; it is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("profile: migrate: %w", err)
	}
	return nil
}

// GetProfile returns (nil, nil) when no profile exists.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	const query = `
		SELECT id, name, birth_year, preferred_voice, attributes, created_at, updated_at
		FROM user_profiles WHERE id = $1`

	var p Profile
	var attrJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.BirthYear, &p.PreferredVoice, &attrJSON,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profile: get %q: %w", id, err)
	}
	if err := json.Unmarshal(attrJSON, &p.Attributes); err != nil {
		return nil, fmt.Errorf("profile: unmarshal attributes: %w", err)
	}
	return &p, nil
}

// UpsertProfile creates or replaces a profile.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		return errors.New("profile: upsert: empty id")
	}
	attrJSON, err := json.Marshal(emptyMap(p.Attributes))
	if err != nil {
		return fmt.Errorf("profile: marshal attributes: %w", err)
	}

	const query = `
		INSERT INTO user_profiles (id, name, birth_year, preferred_voice, attributes)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			birth_year = EXCLUDED.birth_year,
			preferred_voice = EXCLUDED.preferred_voice,
			attributes = EXCLUDED.attributes,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.BirthYear, p.PreferredVoice, attrJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profile: upsert %q: %w", p.ID, err)
	}
	return nil
}

// DeleteProfile removes a profile; deleting a missing profile is not an
// error. Speaker prints, emotional state, and parental controls cascade.
func (s *PostgresStore) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("profile: delete %q: %w", id, err)
	}
	return nil
}

// ListProfiles returns all profiles ordered by name.
func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	const query = `
		SELECT id, name, birth_year, preferred_voice, attributes, created_at, updated_at
		FROM user_profiles ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var attrJSON []byte
		if err := rows.Scan(
			&p.ID, &p.Name, &p.BirthYear, &p.PreferredVoice, &attrJSON,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("profile: list scan: %w", err)
		}
		if err := json.Unmarshal(attrJSON, &p.Attributes); err != nil {
			return nil, fmt.Errorf("profile: unmarshal attributes: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	return profiles, nil
}

// EnrollSpeaker stores a voice fingerprint for a user. A user may have
// several prints; matching considers all of them.
func (s *PostgresStore) EnrollSpeaker(ctx context.Context, print SpeakerPrint) error {
	if print.UserID == "" || len(print.Embedding) == 0 {
		return errors.New("profile: enroll: user id and embedding required")
	}
	const query = `INSERT INTO speaker_profiles (user_id, embedding) VALUES ($1, $2)`
	if _, err := s.db.Exec(ctx, query, print.UserID, print.Embedding); err != nil {
		return fmt.Errorf("profile: enroll speaker %q: %w", print.UserID, err)
	}
	return nil
}

// SpeakerPrints loads all enrolled fingerprints.
func (s *PostgresStore) SpeakerPrints(ctx context.Context) ([]SpeakerPrint, error) {
	const query = `SELECT user_id, embedding, enrolled_at FROM speaker_profiles`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("profile: speaker prints: %w", err)
	}
	defer rows.Close()

	var prints []SpeakerPrint
	for rows.Next() {
		var p SpeakerPrint
		if err := rows.Scan(&p.UserID, &p.Embedding, &p.EnrolledAt); err != nil {
			return nil, fmt.Errorf("profile: speaker prints scan: %w", err)
		}
		prints = append(prints, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: speaker prints: %w", err)
	}
	return prints, nil
}

// GetEmotional returns the user's emotional state, seeding a default when
// none exists yet.
func (s *PostgresStore) GetEmotional(ctx context.Context, userID string) (*EmotionalState, error) {
	const query = `SELECT user_id, rapport, last_interaction FROM emotional_profiles WHERE user_id = $1`

	var e EmotionalState
	err := s.db.QueryRow(ctx, query, userID).Scan(&e.UserID, &e.Rapport, &e.LastInteraction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &EmotionalState{UserID: userID, Rapport: rapportDefault}, nil
		}
		return nil, fmt.Errorf("profile: get emotional %q: %w", userID, err)
	}
	return &e, nil
}

// SaveEmotional persists the state.
func (s *PostgresStore) SaveEmotional(ctx context.Context, state *EmotionalState) error {
	const query = `
		INSERT INTO emotional_profiles (user_id, rapport, last_interaction)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			rapport = EXCLUDED.rapport,
			last_interaction = EXCLUDED.last_interaction`
	if _, err := s.db.Exec(ctx, query, state.UserID, state.Rapport, state.LastInteraction); err != nil {
		return fmt.Errorf("profile: save emotional %q: %w", state.UserID, err)
	}
	return nil
}

// DecayRapport applies the daily decay in one statement; run by the nightly
// scheduler job.
func (s *PostgresStore) DecayRapport(ctx context.Context) (int64, error) {
	const query = `
		UPDATE emotional_profiles
		SET rapport = GREATEST(0, rapport - $1 *
			EXTRACT(EPOCH FROM (now() - last_interaction)) / 86400.0)
		WHERE last_interaction < now() - interval '1 day'`
	tag, err := s.db.Exec(ctx, query, RapportDecayPerDay)
	if err != nil {
		return 0, fmt.Errorf("profile: decay rapport: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetParental returns (nil, nil) when the child has no controls configured.
func (s *PostgresStore) GetParental(ctx context.Context, childID string) (*ParentalControls, error) {
	const query = `
		SELECT child_id, allowed_domains, quiet_start, quiet_end, content_ceiling, updated_at
		FROM parental_controls WHERE child_id = $1`

	var c ParentalControls
	var domainsJSON []byte
	err := s.db.QueryRow(ctx, query, childID).Scan(
		&c.ChildID, &domainsJSON, &c.QuietStart, &c.QuietEnd, &c.ContentCeiling, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profile: get parental %q: %w", childID, err)
	}
	if err := json.Unmarshal(domainsJSON, &c.AllowedDomains); err != nil {
		return nil, fmt.Errorf("profile: unmarshal allowed_domains: %w", err)
	}
	return &c, nil
}

// SetParental creates or replaces the child's controls.
func (s *PostgresStore) SetParental(ctx context.Context, controls *ParentalControls) error {
	domainsJSON, err := json.Marshal(emptySlice(controls.AllowedDomains))
	if err != nil {
		return fmt.Errorf("profile: marshal allowed_domains: %w", err)
	}
	const query = `
		INSERT INTO parental_controls (child_id, allowed_domains, quiet_start, quiet_end, content_ceiling)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (child_id) DO UPDATE SET
			allowed_domains = EXCLUDED.allowed_domains,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			content_ceiling = EXCLUDED.content_ceiling,
			updated_at = now()
		RETURNING updated_at`
	err = s.db.QueryRow(ctx, query,
		controls.ChildID, domainsJSON, controls.QuietStart, controls.QuietEnd, controls.ContentCeiling,
	).Scan(&controls.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profile: set parental %q: %w", controls.ChildID, err)
	}
	return nil
}

// emptySlice ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyMap ensures JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
