package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ColumnInfo is one row of PRAGMA table_info.
type ColumnInfo struct {
	CID       int            `db:"cid"`
	Name      string         `db:"name"`
	Type      string         `db:"type"`
	NotNull   bool           `db:"notnull"`
	Default   sql.NullString `db:"dflt_value"`
	PKOrdinal int            `db:"pk"`
}

// MasterEntry is one row of sqlite_master.
type MasterEntry struct {
	Type     string         `db:"type"`
	Name     string         `db:"name"`
	TblName  string         `db:"tbl_name"`
	SQL      sql.NullString `db:"sql"`
	RowCount int64          `db:"-"`
}

// QuoteIdent quotes an identifier for interpolation into SQL text.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return true, nil
}

// Columns lists the columns of table in declaration order.
func Columns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT cid, name, type, \"notnull\", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.CID, &c.Name, &c.Type, &c.NotNull, &c.Default, &c.PKOrdinal); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ColumnExists reports whether table has a column called column.
func ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// CountRows returns COUNT(*) of table.
func CountRows(ctx context.Context, q Querier, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Tables lists user tables in name order.
func Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RowCounts counts every user table.
func RowCounts(ctx context.Context, q Querier) (map[string]int64, error) {
	names, err := Tables(ctx, q)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(names))
	for _, n := range names {
		c, err := CountRows(ctx, q, n)
		if err != nil {
			return nil, err
		}
		counts[n] = c
	}
	return counts, nil
}

// Inspect returns every schema object with row counts filled in for tables.
func (db *DB) Inspect(ctx context.Context) ([]MasterEntry, error) {
	x := sqlx.NewDb(db.DB, "sqlite")

	var entries []MasterEntry
	err := x.SelectContext(ctx, &entries,
		"SELECT type, name, tbl_name, sql FROM sqlite_master WHERE name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to read sqlite_master: %w", err)
	}

	for i := range entries {
		if entries[i].Type != "table" {
			continue
		}
		n, err := CountRows(ctx, db, entries[i].Name)
		if err != nil {
			return nil, err
		}
		entries[i].RowCount = n
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TblName != entries[j].TblName {
			return entries[i].TblName < entries[j].TblName
		}
		if entries[i].Type != entries[j].Type {
			return entries[i].Type > entries[j].Type // table before index
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}
