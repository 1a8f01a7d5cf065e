package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore keeps token state for many users in one table, one row per
// store key. The state's own UserID is kept in a separate column. Each
// session writes a single row with one UPSERT, so the write is atomic
// without an explicit transaction.
type PostgresStore struct {
	db    *sql.DB
	table string
	key   string
}

// OpenPostgres connects to dsn and returns a store for the row named key.
func OpenPostgres(ctx context.Context, dsn, table, key string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	store, err := NewPostgresStore(db, table, key)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB, table, key string) (*PostgresStore, error) {
	if table == "" {
		table = "tsapi_tokens"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid token table name %q", table)
	}
	if key == "" {
		return nil, errors.New("store key is required for the postgres token store")
	}
	return &PostgresStore{db: db, table: table, key: key}, nil
}

// EnsureSchema creates the token table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	store_key     TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    TIMESTAMPTZ,
	scope         TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create token table: %w", err)
	}
	return nil
}

// Load reads the store's row.
func (s *PostgresStore) Load(ctx context.Context) (TokenState, error) {
	query := fmt.Sprintf(`SELECT access_token, refresh_token, expires_at, scope, user_id FROM %s WHERE store_key = $1`, s.table)

	var (
		state     TokenState
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, s.key).Scan(
		&state.AccessToken, &state.RefreshToken, &expiresAt, &state.Scope, &state.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenState{}, ErrNotFound
	}
	if err != nil {
		return TokenState{}, fmt.Errorf("failed to load token state: %w", err)
	}
	if expiresAt.Valid {
		state.ExpiresAt = expiresAt.Time.UTC()
	}
	return state, nil
}

// Save upserts the store's row.
func (s *PostgresStore) Save(ctx context.Context, state TokenState) error {
	query := fmt.Sprintf(`INSERT INTO %s (store_key, user_id, access_token, refresh_token, expires_at, scope, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (store_key) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	scope = EXCLUDED.scope,
	updated_at = EXCLUDED.updated_at`, s.table)

	var expiresAt sql.NullTime
	if !state.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: state.ExpiresAt.UTC(), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query,
		s.key, state.UserID, state.AccessToken, state.RefreshToken, expiresAt, state.Scope, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save token state: %w", err)
	}
	return nil
}

// Clear deletes the store's row.
func (s *PostgresStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE store_key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, s.key); err != nil {
		return fmt.Errorf("failed to clear token state: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
