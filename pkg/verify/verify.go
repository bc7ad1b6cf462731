// Package verify recomputes the key of every row of a hash-keyed table and
// reports rows whose stored key disagrees, classified by the historical
// hashing scheme that explains them.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// ErrVerificationFailed is returned when mismatches remain after a repair
// or a migration step that must leave every key canonical.
var ErrVerificationFailed = errors.New("verification failed")

// UnknownScheme labels mismatches no known scheme explains.
const UnknownScheme = "unknown"

const maxKeyParts = 3

// Mismatch is one row whose stored key is not the canonical hash of its
// natural key.
type Mismatch struct {
	Stored   int64    `json:"stored" yaml:"stored"`
	Expected int64    `json:"expected" yaml:"expected"`
	Key      []string `json:"key" yaml:"key"`
	Scheme   string   `json:"scheme" yaml:"scheme"`
}

// Report summarises one table.
type Report struct {
	Table      string         `json:"table" yaml:"table"`
	Total      int            `json:"total" yaml:"total"`
	Matched    int            `json:"matched" yaml:"matched"`
	Mismatches []Mismatch     `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
	ByScheme   map[string]int `json:"by_scheme,omitempty" yaml:"by_scheme,omitempty"`
}

// OK reports whether every row matched.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// keyRow is the shape Verify reads; unused key slots come back as "".
type keyRow struct {
	HashID int64  `db:"hash_id"`
	K0     string `db:"k0"`
	K1     string `db:"k1"`
	K2     string `db:"k2"`
}

func (r keyRow) parts(n int) []string {
	return []string{r.K0, r.K1, r.K2}[:n]
}

// Verify checks every row of t. It only reads.
func Verify(ctx context.Context, q dbpkg.Querier, t schema.Table) (*Report, error) {
	if !t.Hashed {
		return nil, fmt.Errorf("table %s is not keyed by %s", t.Name, schema.HashColumn)
	}
	n := len(t.KeyColumns)
	if n == 0 || n > maxKeyParts {
		return nil, fmt.Errorf("table %s has %d key columns, expected 1-%d", t.Name, n, maxKeyParts)
	}

	sel := []string{schema.HashColumn}
	for i := 0; i < maxKeyParts; i++ {
		if i < n {
			sel = append(sel, fmt.Sprintf("COALESCE(%s, '') AS k%d", dbpkg.QuoteIdent(t.KeyColumns[i]), i))
		} else {
			sel = append(sel, fmt.Sprintf("'' AS k%d", i))
		}
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(sel, ", "), dbpkg.QuoteIdent(t.Name), schema.HashColumn))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var all []keyRow
	if err := sqlx.StructScan(rows, &all); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", t.Name, err)
	}

	rep := &Report{Table: t.Name, Total: len(all), ByScheme: map[string]int{}}
	for _, r := range all {
		parts := r.parts(n)
		want := hashkey.Key(parts...)
		if want == r.HashID {
			rep.Matched++
			continue
		}
		name := UnknownScheme
		if s, ok := hashkey.Classify(r.HashID, parts); ok {
			name = s.Name
		}
		rep.ByScheme[name]++
		rep.Mismatches = append(rep.Mismatches, Mismatch{
			Stored:   r.HashID,
			Expected: want,
			Key:      parts,
			Scheme:   name,
		})
	}

	slog.Debug("table verified", "table", t.Name, "total", rep.Total, "mismatched", len(rep.Mismatches))
	return rep, nil
}

// Schemes lists the scheme names of a report in descending frequency.
func (r *Report) Schemes() []string {
	names := make([]string, 0, len(r.ByScheme))
	for k := range r.ByScheme {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.ByScheme[names[i]] != r.ByScheme[names[j]] {
			return r.ByScheme[names[i]] > r.ByScheme[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
