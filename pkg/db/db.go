package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is one SQLite generation file owned by the current run.
type DB struct {
	*sql.DB
	path     string
	readOnly bool
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// openDB opens a SQLite database at the given DSN
func openDB(dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: coherent.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close() // Close error less important than PRAGMA error
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return sqlDB, nil
}

// Open opens or creates a database file for writing.
func Open(path string) (*DB, error) {
	sqlDB, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// OpenExisting is Open but fails when the file does not exist, so a typo
// never creates an empty generation.
func OpenExisting(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return Open(path)
}

// OpenReadOnly opens an existing file without write access.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}

	sqlDB, err := openDB("file:" + path + "?mode=ro")
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA query_only = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to set query_only: %w", err)
	}

	return &DB{DB: sqlDB, path: path, readOnly: true}, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// ReadOnly reports whether the handle was opened with OpenReadOnly.
func (db *DB) ReadOnly() bool {
	return db.readOnly
}

// bulkLoadPragmas are only ever applied to an unpublished copy.
var bulkLoadPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = -128000",
	"PRAGMA temp_store = MEMORY",
}

// BulkLoadMode applies the pragmas used while building or migrating a copy.
func (db *DB) BulkLoadMode(ctx context.Context) error {
	for _, p := range bulkLoadPragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Finalize checkpoints the WAL into the main file and leaves it in rollback
// journal mode, so the generation is a single self-contained file that
// readers can open with mode=ro.
func (db *DB) Finalize(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = DELETE"); err != nil {
		return fmt.Errorf("failed to leave WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		return fmt.Errorf("failed to restore synchronous: %w", err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns its findings
// (empty when the file is sound).
func (db *DB) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, fmt.Errorf("failed to run integrity check: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// UserVersion reads PRAGMA user_version.
func (db *DB) UserVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return v, nil
}

// SetUserVersion writes PRAGMA user_version. Pragmas do not take bind
// parameters, hence the formatted statement.
func SetUserVersion(ctx context.Context, q Querier, v int) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
