// Package migrate produces generation N+1 of a domain database from
// generation N by copying the file and applying versioned steps to the copy.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freedevtools/fdtdb/pkg/aggregate"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/verify"
)

// Kind decides how the engine checks a step after applying it.
type Kind string

const (
	// KindSchema steps change structure only; every table that existed
	// before keeps its row count.
	KindSchema Kind = "schema"
	// KindRekey steps rewrite hash ids; afterwards every key must verify.
	KindRekey Kind = "rekey"
	// KindData steps change rows.
	KindData Kind = "data"
)

// ApplyFunc runs inside the step's transaction.
type ApplyFunc func(ctx context.Context, tx *sql.Tx, d schema.Domain) error

// Step is one named, versioned change. Apply must be safe to run on a file
// that already has the change.
type Step struct {
	Name    string
	Version int
	Kind    Kind
	// Changes describe the step for plans and reports.
	Changes []string
	// Tables the step rekeys; verified after a KindRekey step.
	Tables []string
	// Repeatable steps run on every migration they are passed to and are
	// never filtered by the journal.
	Repeatable bool
	Apply      ApplyFunc
}

func (s Step) String() string {
	return fmt.Sprintf("v%d %s (%s)", s.Version, s.Name, s.Kind)
}

// AddColumn adds one column when the table lacks it.
func AddColumn(version int, table string, col schema.Column) Step {
	return Step{
		Name:    "add-column-" + table + "-" + col.Name,
		Version: version,
		Kind:    KindSchema,
		Changes: []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.Name, col.Decl)},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			return addColumn(ctx, tx, table, col)
		},
	}
}

func addColumn(ctx context.Context, tx *sql.Tx, table string, col schema.Column) error {
	exists, err := dbpkg.TableExists(ctx, tx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", table)
	}
	has, err := dbpkg.ColumnExists(ctx, tx, table, col.Name)
	if err != nil || has {
		return err
	}
	if strings.Contains(strings.ToUpper(col.Decl), "PRIMARY KEY") {
		return fmt.Errorf("cannot add primary key column %s to %s in place", col.Name, table)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		dbpkg.QuoteIdent(table), dbpkg.QuoteIdent(col.Name), col.Decl))
	if err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, col.Name, err)
	}
	return nil
}

// SyncSchema creates missing tables and indexes of the domain and adds
// declared columns that existing tables lack.
func SyncSchema(version int) Step {
	return Step{
		Name:    "sync-schema",
		Version: version,
		Kind:    KindSchema,
		Changes: []string{"create missing tables and indexes", "add missing declared columns"},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			for _, t := range d.Tables() {
				exists, err := dbpkg.TableExists(ctx, tx, t.Name)
				if err != nil {
					return err
				}
				if !exists {
					continue
				}
				for _, c := range t.Columns {
					if err := addColumn(ctx, tx, t.Name, c); err != nil {
						return err
					}
				}
			}
			return schema.CreateTables(ctx, tx, d)
		},
	}
}

// DropColumn removes a column by rebuilding the table: create a
// replacement, copy the rows, drop the original, rename, recreate indexes
// that do not use the column. A missing table or column is a no-op. Key
// columns and columns a table constraint uses cannot be dropped.
func DropColumn(version int, table, column string) Step {
	return Step{
		Name:    "drop-column-" + table + "-" + column,
		Version: version,
		Kind:    KindSchema,
		Changes: []string{fmt.Sprintf("rebuild %s without %s", table, column)},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			return dropColumn(ctx, tx, d, table, column)
		},
	}
}

func dropColumn(ctx context.Context, tx *sql.Tx, d schema.Domain, table, column string) error {
	exists, err := dbpkg.TableExists(ctx, tx, table)
	if err != nil || !exists {
		return err
	}
	cols, err := dbpkg.Columns(ctx, tx, table)
	if err != nil {
		return err
	}

	var keep []dbpkg.ColumnInfo
	found := false
	for _, c := range cols {
		if c.Name == column {
			found = true
			continue
		}
		keep = append(keep, c)
	}
	if !found {
		return nil
	}
	if len(keep) == 0 {
		return fmt.Errorf("cannot drop the only column of %s", table)
	}

	var original string
	if err := tx.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&original); err != nil {
		return fmt.Errorf("failed to read definition of %s: %w", table, err)
	}
	indexes, err := indexesWithout(ctx, tx, table, column)
	if err != nil {
		return err
	}

	tmp := table + "__rebuild"
	create, err := replacementSQL(tmp, original, d, table, column, keep)
	if err != nil {
		return err
	}
	names := make([]string, len(keep))
	for i, c := range keep {
		names[i] = dbpkg.QuoteIdent(c.Name)
	}
	colList := strings.Join(names, ", ")

	stmts := []string{
		"DROP TABLE IF EXISTS " + dbpkg.QuoteIdent(tmp),
		create,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", dbpkg.QuoteIdent(tmp), colList, colList, dbpkg.QuoteIdent(table)),
		"DROP TABLE " + dbpkg.QuoteIdent(table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", dbpkg.QuoteIdent(tmp), dbpkg.QuoteIdent(table)),
	}
	stmts = append(stmts, indexes...)
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to rebuild %s: %w", table, err)
		}
	}
	return nil
}

// indexesWithout returns the CREATE INDEX statements of table's explicit
// indexes that do not reference column.
func indexesWithout(ctx context.Context, tx *sql.Tx, table, column string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT name, sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", table)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", table, err)
	}
	type index struct{ name, sql string }
	var all []index
	for rows.Next() {
		var ix index
		if err := rows.Scan(&ix.name, &ix.sql); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		all = append(all, ix)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}

	var out []string
	for _, ix := range all {
		uses := false
		irows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_index_info(?)", ix.name)
		if err != nil {
			return nil, fmt.Errorf("failed to read index %s: %w", ix.name, err)
		}
		for irows.Next() {
			var col sql.NullString
			if err := irows.Scan(&col); err != nil {
				_ = irows.Close()
				return nil, err
			}
			if col.String == column {
				uses = true
			}
		}
		if err := errors.Join(irows.Err(), irows.Close()); err != nil {
			return nil, err
		}
		if !uses {
			out = append(out, ix.sql)
		}
	}
	return out, nil
}

// RekeyTable recomputes hash_id of every row of a declared table from its
// natural-key columns.
func RekeyTable(version int, table string) Step {
	return Step{
		Name:    "rekey-" + table,
		Version: version,
		Kind:    KindRekey,
		Tables:  []string{table},
		Changes: []string{fmt.Sprintf("recompute %s.%s from the natural key", table, schema.HashColumn)},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			t, ok := d.Table(table)
			if !ok {
				return fmt.Errorf("table %s is not declared for %s", table, d.Name)
			}
			exists, err := dbpkg.TableExists(ctx, tx, table)
			if err != nil || !exists {
				return err
			}
			rep, err := verify.Verify(ctx, tx, t)
			if err != nil {
				return err
			}
			mapping := make(map[int64]int64, len(rep.Mismatches))
			for _, m := range rep.Mismatches {
				mapping[m.Stored] = m.Expected
			}
			return verify.Remap(ctx, tx, t, mapping)
		},
	}
}

// RebuildAggregates regenerates the category tables and the overview row.
func RebuildAggregates(version int) Step {
	return Step{
		Name:    "rebuild-aggregates",
		Version: version,
		Kind:    KindData,
		Changes: []string{"rebuild aggregate tables", "rewrite overview"},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			_, err := aggregate.RebuildTx(ctx, tx, d, time.Now())
			return err
		},
	}
}

// TouchUpdatedAt sets updated_at of every content row to the run time.
func TouchUpdatedAt(version int) Step {
	return Step{
		Name:       "touch-updated-at",
		Version:    version,
		Kind:       KindData,
		Repeatable: true,
		Changes:    []string{"bump updated_at of every content row"},
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			stamp := time.Now().UTC().Format(time.RFC3339)
			_, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ?",
				dbpkg.QuoteIdent(d.Content.Name), schema.ColUpdatedAt), stamp)
			if err != nil {
				return fmt.Errorf("failed to touch %s: %w", d.Content.Name, err)
			}
			return nil
		},
	}
}

// ExecSQL runs statements verbatim.
func ExecSQL(name string, version int, kind Kind, stmts ...string) Step {
	return Step{
		Name:       name,
		Version:    version,
		Kind:       kind,
		Repeatable: true,
		Changes:    stmts,
		Apply: func(ctx context.Context, tx *sql.Tx, d schema.Domain) error {
			for _, s := range stmts {
				if _, err := tx.ExecContext(ctx, s); err != nil {
					return fmt.Errorf("failed to execute %q: %w", s, err)
				}
			}
			return nil
		},
	}
}
