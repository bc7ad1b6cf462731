// Package aggregate rebuilds the category, sub-category and overview tables
// of a generation from its content table.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// CountColumn holds the number of content rows in a group.
const CountColumn = "count"

// Result reports the rows written by one rebuild.
type Result struct {
	Rows  map[string]int64
	Total int64
}

// Meta is hand-maintained text attached to an aggregate row.
type Meta struct {
	Description string
	Keywords    []string
}

// Rebuild regenerates every aggregate table of d and the overview row in one
// transaction.
func Rebuild(ctx context.Context, db *dbpkg.DB, d schema.Domain) (*Result, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin aggregate transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := RebuildTx(ctx, tx, d, time.Now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit aggregates: %w", err)
	}

	slog.Info("aggregates rebuilt", "domain", d.Name, "total", res.Total, "rows", res.Rows)
	return res, nil
}

// RebuildTx is Rebuild on a caller-owned transaction.
func RebuildTx(ctx context.Context, q dbpkg.Querier, d schema.Domain, now time.Time) (*Result, error) {
	res := &Result{Rows: map[string]int64{}}
	for _, a := range d.Aggregates {
		n, err := rebuildOne(ctx, q, d.Content, a)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild %s: %w", a.Table.Name, err)
		}
		res.Rows[a.Table.Name] = n
	}

	total, err := dbpkg.CountRows(ctx, q, d.Content.Name)
	if err != nil {
		return nil, err
	}
	res.Total = total

	var categories int64
	if len(d.Aggregates) > 0 {
		categories = res.Rows[d.Aggregates[0].Table.Name]
	}
	if err := writeOverview(ctx, q, d.Overview, total, categories, now); err != nil {
		return nil, err
	}
	return res, nil
}

func rebuildOne(ctx context.Context, q dbpkg.Querier, content schema.Table, a schema.Aggregate) (int64, error) {
	if len(a.GroupBy) != len(a.Table.KeyColumns) {
		return 0, fmt.Errorf("group by %v does not match key columns %v", a.GroupBy, a.Table.KeyColumns)
	}

	kept, err := preserved(ctx, q, a)
	if err != nil {
		return 0, err
	}

	groups, err := groupRows(ctx, q, content, a)
	if err != nil {
		return 0, err
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM "+dbpkg.QuoteIdent(a.Table.Name)); err != nil {
		return 0, fmt.Errorf("failed to clear table: %w", err)
	}

	cols := append([]string{}, a.Table.KeyColumns...)
	if a.Table.Hashed {
		cols = append(cols, schema.HashColumn)
	}
	cols = append(cols, CountColumn)
	for _, c := range a.Computed {
		cols = append(cols, c.Name)
	}
	cols = append(cols, a.Preserve...)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dbpkg.QuoteIdent(c)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		dbpkg.QuoteIdent(a.Table.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	defaults := make([]string, len(a.Preserve))
	for i, p := range a.Preserve {
		c, _ := a.Table.Column(p)
		defaults[i] = declDefault(c.Decl)
	}

	for _, g := range groups {
		args := make([]any, 0, len(cols))
		for _, k := range g.key {
			args = append(args, k)
		}
		if a.Table.Hashed {
			args = append(args, hashkey.Key(g.key...))
		}
		args = append(args, g.count)
		for _, v := range g.computed {
			args = append(args, v)
		}
		old, ok := kept[keyString(g.key)]
		for i := range a.Preserve {
			if ok && old[i] != "" {
				args = append(args, old[i])
			} else {
				args = append(args, defaults[i])
			}
		}
		if _, err := q.ExecContext(ctx, insert, args...); err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", keyString(g.key), err)
		}
	}
	return int64(len(groups)), nil
}

type group struct {
	key      []string
	count    int64
	computed []string
}

// groupRows runs the GROUP BY over the content table, ordered by the group
// key.
func groupRows(ctx context.Context, q dbpkg.Querier, content schema.Table, a schema.Aggregate) ([]group, error) {
	by := make([]string, len(a.GroupBy))
	for i, c := range a.GroupBy {
		by[i] = dbpkg.QuoteIdent(c)
	}
	sel := append([]string{}, by...)
	sel = append(sel, "COUNT(*)")
	for _, c := range a.Computed {
		sel = append(sel, c.Expr)
	}
	query := fmt.Sprintf("SELECT %s FROM %s GROUP BY %s ORDER BY %s",
		strings.Join(sel, ", "), dbpkg.QuoteIdent(content.Name), strings.Join(by, ", "), strings.Join(by, ", "))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group %s: %w", content.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []group
	for rows.Next() {
		g := group{
			key:      make([]string, len(a.GroupBy)),
			computed: make([]string, len(a.Computed)),
		}
		dest := make([]any, 0, len(sel))
		for i := range g.key {
			dest = append(dest, &g.key[i])
		}
		dest = append(dest, &g.count)
		for i := range g.computed {
			dest = append(dest, &g.computed[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// preserved reads the hand-edited columns of the current aggregate rows,
// keyed by the joined key columns. Columns the table does not have yet are
// returned as "".
func preserved(ctx context.Context, q dbpkg.Querier, a schema.Aggregate) (map[string][]string, error) {
	out := map[string][]string{}
	if len(a.Preserve) == 0 {
		return out, nil
	}
	exists, err := dbpkg.TableExists(ctx, q, a.Table.Name)
	if err != nil || !exists {
		return out, err
	}

	sel := make([]string, 0, len(a.Table.KeyColumns)+len(a.Preserve))
	for _, k := range a.Table.KeyColumns {
		sel = append(sel, dbpkg.QuoteIdent(k))
	}
	for _, p := range a.Preserve {
		ok, err := dbpkg.ColumnExists(ctx, q, a.Table.Name, p)
		if err != nil {
			return nil, err
		}
		if ok {
			sel = append(sel, "COALESCE("+dbpkg.QuoteIdent(p)+", '')")
		} else {
			sel = append(sel, "''")
		}
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(sel, ", "), dbpkg.QuoteIdent(a.Table.Name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a.Table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		key := make([]string, len(a.Table.KeyColumns))
		vals := make([]string, len(a.Preserve))
		dest := make([]any, 0, len(sel))
		for i := range key {
			dest = append(dest, &key[i])
		}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", a.Table.Name, err)
		}
		out[keyString(key)] = vals
	}
	return out, rows.Err()
}

func writeOverview(ctx context.Context, q dbpkg.Querier, t schema.Table, total, categories int64, now time.Time) error {
	cols := []string{"id", "total_count", "last_updated_at"}
	args := []any{1, total, now.UTC().Format(time.RFC3339)}

	// generations made before the column existed get it from a migration
	ok, err := dbpkg.ColumnExists(ctx, q, t.Name, "total_category_count")
	if err != nil {
		return err
	}
	if ok {
		cols = append(cols, "total_category_count")
		args = append(args, categories)
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		dbpkg.QuoteIdent(t.Name), strings.Join(cols, ", "), marks)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}
	return nil
}

var defaultLiteral = regexp.MustCompile(`(?i)DEFAULT\s+'((?:[^']|'')*)'`)

// declDefault returns the string literal default of a column declaration,
// or "".
func declDefault(decl string) string {
	m := defaultLiteral.FindStringSubmatch(decl)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], "''", "'")
}

func keyString(key []string) string {
	return strings.Join(key, "/")
}
