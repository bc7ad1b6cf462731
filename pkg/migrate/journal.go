package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
)

// JournalTable records applied steps inside the generation file itself.
const JournalTable = "schema_migrations"

const journalSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    kind TEXT NOT NULL,
    changes TEXT NOT NULL DEFAULT '',
    applied_at TEXT NOT NULL,
    run_id TEXT NOT NULL
)`

// Applied is one journal row.
type Applied struct {
	Name      string    `json:"name" yaml:"name"`
	Version   int       `json:"version" yaml:"version"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
	RunID     string    `json:"run_id" yaml:"run_id"`
}

func ensureJournal(ctx context.Context, q dbpkg.Querier) error {
	if _, err := q.ExecContext(ctx, journalSchema); err != nil {
		return fmt.Errorf("failed to create %s: %w", JournalTable, err)
	}
	return nil
}

func record(ctx context.Context, q dbpkg.Querier, s Step, runID string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO schema_migrations (name, version, kind, changes, applied_at, run_id) VALUES (?, ?, ?, ?, ?, ?)",
		s.Name, s.Version, string(s.Kind), strings.Join(s.Changes, "\n"), at.UTC().Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("failed to journal %s: %w", s.Name, err)
	}
	return nil
}

// Journal lists applied steps in the order they ran. A file without a
// journal has an empty one.
func Journal(ctx context.Context, q dbpkg.Querier) ([]Applied, error) {
	exists, err := dbpkg.TableExists(ctx, q, JournalTable)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		"SELECT name, version, kind, applied_at, run_id FROM schema_migrations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", JournalTable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Applied
	for rows.Next() {
		var a Applied
		var kind, at string
		if err := rows.Scan(&a.Name, &a.Version, &kind, &at, &a.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan journal: %w", err)
		}
		a.Kind = Kind(kind)
		a.AppliedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Pending filters steps down to those a file still needs: newer than its
// user_version and not journalled. Repeatable steps always stay.
func Pending(ctx context.Context, q dbpkg.Querier, steps []Step) ([]Step, int, error) {
	var current int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return nil, 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	applied, err := Journal(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[journalKey(a.Name, a.Version)] = true
	}

	var out []Step
	for _, s := range steps {
		if s.Repeatable || (s.Version > current && !done[journalKey(s.Name, s.Version)]) {
			out = append(out, s)
		}
	}
	return out, current, nil
}

func journalKey(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}
