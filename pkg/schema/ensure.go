package schema

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
)

// EnsureSchema creates every table and index of d that is missing, applies
// the bulk-load pragmas and validates pre-existing tables. It never drops or
// alters anything, so running it twice leaves the schema unchanged.
func EnsureSchema(ctx context.Context, db *dbpkg.DB, d Domain) error {
	if err := db.BulkLoadMode(ctx); err != nil {
		return err
	}

	if err := Validate(ctx, db, d); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := CreateTables(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	slog.Debug("schema ensured", "domain", d.Name, "db", db.Path())
	return nil
}

// CreateTables runs the CREATE ... IF NOT EXISTS statements of d on q
// without validation.
func CreateTables(ctx context.Context, q dbpkg.Querier, d Domain) error {
	for _, t := range d.Tables() {
		if _, err := q.ExecContext(ctx, t.CreateSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
		for _, stmt := range t.IndexSQL() {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create index on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// Validate checks that every existing declared table has at least the
// declared columns and the expected primary key. Missing tables are fine.
func Validate(ctx context.Context, q dbpkg.Querier, d Domain) error {
	for _, t := range d.Tables() {
		exists, err := dbpkg.TableExists(ctx, q, t.Name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := validateTable(ctx, q, t); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(ctx context.Context, q dbpkg.Querier, t Table) error {
	cols, err := dbpkg.Columns(ctx, q, t.Name)
	if err != nil {
		return err
	}
	have := make(map[string]dbpkg.ColumnInfo, len(cols))
	for _, c := range cols {
		have[c.Name] = c
	}

	var missing []string
	for _, c := range t.Columns {
		if _, ok := have[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: table %s is missing columns %s", ErrIncompatibleSchema, t.Name, strings.Join(missing, ", "))
	}

	if t.Hashed {
		pk := have[HashColumn]
		if pk.PKOrdinal != 1 || !strings.EqualFold(pk.Type, "INTEGER") {
			return fmt.Errorf("%w: table %s must have %s INTEGER PRIMARY KEY, found %q pk=%d",
				ErrIncompatibleSchema, t.Name, HashColumn, pk.Type, pk.PKOrdinal)
		}
	}
	return nil
}

// DropSchema removes every table of d. It is deliberately separate from
// EnsureSchema.
func DropSchema(ctx context.Context, db *dbpkg.DB, d Domain) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin drop transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range d.Tables() {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+dbpkg.QuoteIdent(t.Name)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit drop: %w", err)
	}
	slog.Info("schema dropped", "domain", d.Name, "db", db.Path())
	return nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Snapshot returns a normalised listing of sqlite_master, one line per
// object, suitable for diffing two schemas.
func Snapshot(ctx context.Context, q dbpkg.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT type, name, tbl_name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%'
		ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var typ, name, tbl, sqlText string
		if err := rows.Scan(&typ, &name, &tbl, &sqlText); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		sqlText = whitespace.ReplaceAllString(strings.TrimSpace(sqlText), " ")
		out = append(out, fmt.Sprintf("%s %s on %s: %s", typ, name, tbl, sqlText))
	}
	return out, rows.Err()
}
