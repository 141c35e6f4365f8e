package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - entries table (key BLOB PRIMARY KEY, value BLOB) WITHOUT ROWID
const currentSchemaVersion = 1

// SQLite is a Backend stored in a single SQLite database file.
// Uses WAL mode with synchronous=FULL so a returned write survives a crash.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode (a completed write is checkpoint-safe)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Scans are paged and never hold a cursor across calls, so one
	// connection cannot deadlock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Backend.
func (s *SQLite) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return nonNil(value), true, nil
}

// Set implements Backend.
func (s *SQLite) Set(ctx context.Context, key, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, key, nonNil(value)); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Scan implements Backend.
// Rows are fully read and closed before returning.
func (s *SQLite) Scan(ctx context.Context, r ScanRange) ([]Entry, error) {
	where, args := rangeClause(r.Lower, r.Upper)
	if r.After != nil {
		if r.Reverse {
			where = append(where, "key < ?")
		} else {
			where = append(where, "key > ?")
		}
		args = append(args, r.After)
	}

	query := "SELECT key, value FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if r.Reverse {
		query += " ORDER BY key DESC"
	} else {
		query += " ORDER BY key ASC"
	}
	limit := -1 // SQLite: negative LIMIT means no limit
	if r.Limit > 0 {
		limit = r.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Value = nonNil(e.Value)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Count implements Backend.
func (s *SQLite) Count(ctx context.Context, lower, upper []byte) (uint64, error) {
	where, args := rangeClause(lower, upper)
	query := "SELECT COUNT(*) FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n uint64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Apply implements Backend using a single transaction.
func (s *SQLite) Apply(ctx context.Context, fn func(b Batch) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&sqliteBatch{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO entries (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
`

type sqliteBatch struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b *sqliteBatch) Set(key, value []byte) error {
	if _, err := b.tx.ExecContext(b.ctx, upsertSQL, key, nonNil(value)); err != nil {
		return fmt.Errorf("batch set: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Delete(key []byte) error {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	return nil
}

func (b *sqliteBatch) DeleteRange(lower, upper []byte) error {
	where, args := rangeClause(lower, upper)
	query := "DELETE FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if _, err := b.tx.ExecContext(b.ctx, query, args...); err != nil {
		return fmt.Errorf("batch delete range: %w", err)
	}
	return nil
}

// rangeClause builds the WHERE terms for [lower, upper).
func rangeClause(lower, upper []byte) ([]string, []any) {
	var where []string
	var args []any
	if lower != nil {
		where = append(where, "key >= ?")
		args = append(args, lower)
	}
	if upper != nil {
		where = append(where, "key < ?")
		args = append(args, upper)
	}
	return where, args
}

// nonNil maps nil to an empty slice. go-sqlite3 binds a nil []byte as NULL,
// and empty values (log markers) are legitimate.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations checks user_version and records the current schema version.
// A database written by a newer schema is refused rather than reinterpreted.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
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
