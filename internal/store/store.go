// Package store is Gobby's Store component (C1): embedded relational
// persistence over a single SQLite database, schema migrations, and a
// per-entity CRUD manager per data-model type. Unlike the teacher's
// pluggable json/sqlite StateManager, Gobby's Store has exactly one backend
// — see DESIGN.md for why the JSON backend was dropped.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store is Gobby's single persistence handle. It owns two SQLite
// connections to the same database file: a single-conn write pool (SQLite
// only ever allows one writer) and a multi-conn read-only pool, so readers
// are never blocked behind a writer holding the database lock.
type Store struct {
	dbPath string
	db     *sql.DB // write connection, max 1 open conn
	readDB *sql.DB // read-only connection pool

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxRetries overrides how many times retryWrite retries a
// SQLITE_BUSY/SQLITE_LOCKED write before giving up.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Open creates or opens the SQLite database at dbPath and brings its schema
// up to date.
func Open(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes both connections.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// migrate brings the schema up to the latest version. Only one migration
// exists today; the version-gated structure mirrors the teacher's so adding
// migration 2 is a one-line addition, not a rewrite.
func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if _, createErr := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); createErr != nil {
			return fmt.Errorf("creating schema_migrations table: %w", createErr)
		}
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (1, ?)`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}

	return nil
}

// retryWrite executes a write with exponential backoff on SQLITE_BUSY /
// SQLITE_LOCKED, the same tolerance the teacher's state manager used for
// its single-writer connection.
func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				if attempt < s.maxRetries {
					wait := s.baseRetryWait * time.Duration(1<<attempt)
					select {
					case <-ctx.Done():
						return fmt.Errorf("%s: %w (last error: %v)", operation, ctx.Err(), lastErr)
					case <-time.After(wait):
						continue
					}
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", operation, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// nullable helpers shared by every entity manager file.

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func toNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func fromNullTime(n sql.NullString) (*time.Time, error) {
	if !n.Valid || n.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, n.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// requireRowsAffected turns a no-op UPDATE/DELETE (zero rows matched) into a
// NotFound error instead of silently succeeding.
func requireRowsAffected(res sql.Result, resource, ref string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound(resource, ref)
	}
	return nil
}
