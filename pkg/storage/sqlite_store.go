package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps an embedded SQLite database holding the synced message mapping
// and the voice session history. It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []struct{ name, stmt string }{
		{"set WAL", `PRAGMA journal_mode=WAL;`},
		{"set busy_timeout", `PRAGMA busy_timeout=5000;`},
		{"set synchronous", `PRAGMA synchronous=NORMAL;`},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrNotInitialized
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key=?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or overwrites key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

// Delete removes key (no error if absent).
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key=?`, key); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

// ActivateSession deactivates the owner's active session (if any) and inserts rec as active.
func (s *Store) ActivateSession(ctx context.Context, rec SessionRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if err := validateSession(rec); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_active=0, stopped_at=? WHERE owner_key=? AND is_active=1`,
		rec.StartedAt.UTC(), rec.OwnerKey,
	); err != nil {
		return fmt.Errorf("deactivate previous session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_key, resource_target_id, started_at, stopped_at, is_active)
         VALUES (?, ?, ?, ?, NULL, 1)`,
		rec.ID, rec.OwnerKey, rec.ResourceTargetID, rec.StartedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

// DeactivateSession marks the owner's active session inactive. It reports
// whether a record was changed.
func (s *Store) DeactivateSession(ctx context.Context, ownerKey string, at time.Time) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active=0, stopped_at=? WHERE owner_key=? AND is_active=1`,
		at.UTC(), ownerKey,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActiveSession returns the owner's active session, if any.
func (s *Store) ActiveSession(ctx context.Context, ownerKey string) (SessionRecord, bool, error) {
	if s.db == nil {
		return SessionRecord{}, false, ErrNotInitialized
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_key, resource_target_id, started_at, stopped_at, is_active
         FROM sessions WHERE owner_key=? AND is_active=1`,
		ownerKey,
	)
	rec, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// ListActiveSessions returns every active session ordered by start time.
func (s *Store) ListActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_key, resource_target_id, started_at, stopped_at, is_active
         FROM sessions WHERE is_active=1 ORDER BY started_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// SessionHistory returns the owner's sessions, newest first. limit <= 0 means all.
func (s *Store) SessionHistory(ctx context.Context, ownerKey string, limit int) ([]SessionRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_key, resource_target_id, started_at, stopped_at, is_active
         FROM sessions WHERE owner_key=? ORDER BY started_at DESC LIMIT ?`,
		ownerKey, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var stopped sql.NullTime
	if err := row.Scan(&rec.ID, &rec.OwnerKey, &rec.ResourceTargetID, &rec.StartedAt, &stopped, &rec.IsActive); err != nil {
		return SessionRecord{}, err
	}
	if stopped.Valid {
		rec.StoppedAt = stopped.Time
	}
	return rec, nil
}

func collectSessions(rows *sql.Rows) ([]SessionRecord, error) {
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func ensureSchema(db *sql.DB) error {
	const createKV = `
CREATE TABLE IF NOT EXISTS kv_store (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL
);`

	const createSessions = `
CREATE TABLE IF NOT EXISTS sessions (
  id                 TEXT PRIMARY KEY,
  owner_key          TEXT NOT NULL,
  resource_target_id TEXT NOT NULL,
  started_at         TIMESTAMP NOT NULL,
  stopped_at         TIMESTAMP,
  is_active          BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_key, started_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(owner_key) WHERE is_active = 1;`

	for _, sqlText := range []string{createKV, createSessions} {
		if _, err := db.Exec(sqlText); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
