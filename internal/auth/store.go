package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store errors.
var (
	ErrUserNotFound = errors.New("auth: user not found")
	ErrUserExists   = errors.New("auth: user already exists")
)

// User is an administrative account. Role is "admin" or "viewer".
type User struct {
	ID           string
	Name         string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

// Store persists admin accounts.
type Store interface {
	// CreateUser inserts the user, assigning ID when empty. Returns
	// ErrUserExists on a name collision.
	CreateUser(ctx context.Context, user *User) error
	// GetUserByName returns ErrUserNotFound for unknown names.
	GetUserByName(ctx context.Context, name string) (*User, error)
	// SetActive enables or disables an account.
	SetActive(ctx context.Context, id string, active bool) error
}

// MemStore is an in-memory [Store] for tests and storeless development runs.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]User // keyed by name
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]User)}
}

func (s *MemStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Name]; ok {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.Name] = *user
	return nil
}

func (s *MemStore) GetUserByName(_ context.Context, name string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := u
	return &cp, nil
}

func (s *MemStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, u := range s.users {
		if u.ID == id {
			u.Active = active
			s.users[name] = u
			return nil
		}
	}
	return ErrUserNotFound
}

// Schema is the SQL DDL for the admin account table. Execute it via
// [PostgresStore.Migrate] during startup.
const Schema = `
CREATE TABLE IF NOT EXISTS admin_users (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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
		return fmt.Errorf("auth: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO admin_users (id, name, password_hash, role)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at`
	err := s.db.QueryRow(ctx, query, user.ID, user.Name, user.PasswordHash, user.Role).
		Scan(&user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserExists
		}
		return fmt.Errorf("auth: create user %q: %w", user.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	const query = `
		SELECT id, name, password_hash, role, active, created_at
		FROM admin_users WHERE name = $1`
	var u User
	err := s.db.QueryRow(ctx, query, name).Scan(
		&u.ID, &u.Name, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: get user %q: %w", name, err)
	}
	return &u, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE admin_users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("auth: set active %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
