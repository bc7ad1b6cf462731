package aggregate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// Drift is an aggregate row whose stored count disagrees with the content
// table. A missing row has Stored -1; a stale row has Expected 0.
type Drift struct {
	Table    string `json:"table" yaml:"table"`
	Key      string `json:"key" yaml:"key"`
	Stored   int64  `json:"stored" yaml:"stored"`
	Expected int64  `json:"expected" yaml:"expected"`
}

func (d Drift) String() string {
	return fmt.Sprintf("%s[%s]: stored %d, expected %d", d.Table, d.Key, d.Stored, d.Expected)
}

// Check compares every aggregate count and the overview total with the
// content table. It only reads.
func Check(ctx context.Context, q dbpkg.Querier, d schema.Domain) ([]Drift, error) {
	var out []Drift
	for _, a := range d.Aggregates {
		groups, err := groupRows(ctx, q, d.Content, a)
		if err != nil {
			return nil, err
		}
		expected := make(map[string]int64, len(groups))
		for _, g := range groups {
			expected[keyString(g.key)] = g.count
		}

		stored, err := storedCounts(ctx, q, a.Table)
		if err != nil {
			return nil, err
		}

		for key, want := range expected {
			got, ok := stored[key]
			if !ok {
				got = -1
			}
			if got != want {
				out = append(out, Drift{Table: a.Table.Name, Key: key, Stored: got, Expected: want})
			}
		}
		for key, got := range stored {
			if _, ok := expected[key]; !ok {
				out = append(out, Drift{Table: a.Table.Name, Key: key, Stored: got})
			}
		}
	}

	total, err := dbpkg.CountRows(ctx, q, d.Content.Name)
	if err != nil {
		return nil, err
	}
	var overview int64 = -1
	err = q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT total_count FROM %s WHERE id = 1", dbpkg.QuoteIdent(d.Overview.Name))).Scan(&overview)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("failed to read overview: %w", err)
	}
	if overview != total {
		out = append(out, Drift{Table: d.Overview.Name, Key: "total_count", Stored: overview, Expected: total})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func storedCounts(ctx context.Context, q dbpkg.Querier, t schema.Table) (map[string]int64, error) {
	sel := make([]string, 0, len(t.KeyColumns)+1)
	for _, k := range t.KeyColumns {
		sel = append(sel, dbpkg.QuoteIdent(k))
	}
	sel = append(sel, dbpkg.QuoteIdent(CountColumn))

	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(sel, ", "), dbpkg.QuoteIdent(t.Name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]int64{}
	for rows.Next() {
		key := make([]string, len(t.KeyColumns))
		var n int64
		dest := make([]any, 0, len(sel))
		for i := range key {
			dest = append(dest, &key[i])
		}
		dest = append(dest, &n)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.Name, err)
		}
		out[keyString(key)] = n
	}
	return out, rows.Err()
}

// ApplyMeta writes descriptions and keywords shipped with the sources onto
// the rows of the domain's first aggregate table. Empty values leave the
// stored text alone. It returns the number of rows updated.
func ApplyMeta(ctx context.Context, db *dbpkg.DB, d schema.Domain, meta map[string]Meta) (int, error) {
	if len(d.Aggregates) == 0 || len(meta) == 0 {
		return 0, nil
	}
	t := d.Aggregates[0].Table
	if len(t.KeyColumns) != 1 {
		return 0, fmt.Errorf("table %s is not keyed by a single column", t.Name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updated := 0
	for _, name := range sortedNames(meta) {
		m := meta[name]
		var sets []string
		var args []any
		if m.Description != "" {
			sets = append(sets, schema.ColDescription+" = ?")
			args = append(args, m.Description)
		}
		if len(m.Keywords) > 0 {
			b, err := json.Marshal(m.Keywords)
			if err != nil {
				return 0, fmt.Errorf("failed to encode keywords: %w", err)
			}
			sets = append(sets, schema.ColKeywords+" = ?")
			args = append(args, string(b))
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, name)
		res, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			dbpkg.QuoteIdent(t.Name), strings.Join(sets, ", "), dbpkg.QuoteIdent(t.KeyColumns[0])), args...)
		if err != nil {
			return 0, fmt.Errorf("failed to update %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit metadata: %w", err)
	}
	return updated, nil
}

func sortedNames(m map[string]Meta) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
