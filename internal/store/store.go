package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Untracked databases created before version stamping
// 1 - Initial tracked schema (subjects, sessions)
const currentSchemaVersion = 1

// Store provides durable storage for the identity mapping database.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	gen TokenGenerator
	now func() time.Time

	// tx is the held transaction for the current unit of work.
	// Begun lazily by the first write; cleared by Commit/Rollback/Close.
	tx *sql.Tx
}

// Option configures a Store at open time.
type Option func(*Store)

// WithTokenGenerator overrides the token source (for testing).
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(s *Store) { s.gen = gen }
}

// WithNow overrides the timestamp source (for testing).
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the mapping database at the given path.
// Applies required pragmas and creates the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Open failures are classified into the three fatal kinds of OpenError:
// permission denied, disk full, and generic open failure.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	// Touch the file first so filesystem-level failures (permissions,
	// exhausted disk) surface as os errors we can classify, rather than
	// as opaque driver codes at first query.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classifyOpenError(path, err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Single connection also keeps the held transaction and plain reads
	// from deadlocking against each other.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, classifyOpenError(path, err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, classifyOpenError(path, err)
	}

	s := &Store{
		db:  db,
		gen: SecureTokenGenerator{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database connection. Idempotent - safe to call more
// than once. An uncommitted unit of work is rolled back.
func (s *Store) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// begin returns the held transaction, starting one if no unit of work is open.
func (s *Store) begin() (*sql.Tx, error) {
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

// Commit finishes the current unit of work, making its subject and session
// rows visible. No-op when no unit of work is open.
func (s *Store) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the current unit of work, dropping any subject and
// session rows created since the last Commit. No-op when no unit of work
// is open.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// querier is the subset of sql.DB/sql.Tx used by read operations.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader returns the held transaction when a unit of work is open, otherwise
// the base connection. Reads must go through the transaction while one is
// open: with a single connection a plain db query would wait on itself.
func (s *Store) reader() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
