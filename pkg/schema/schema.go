// Package schema declares the per-domain table layout of a generation file
// and creates it idempotently.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
)

// ErrIncompatibleSchema is returned when an existing table lacks a declared
// column. The file is never coerced.
var ErrIncompatibleSchema = errors.New("incompatible schema")

// ErrUnknownDomain is returned by Lookup.
var ErrUnknownDomain = errors.New("unknown domain")

// HashColumn is the primary key column of every hash-keyed table.
const HashColumn = "hash_id"

type Column struct {
	Name string
	// Type plus constraints, e.g. "TEXT NOT NULL DEFAULT ''".
	Decl string
}

type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is one declared table.
type Table struct {
	Name    string
	Columns []Column
	// KeyColumns are the natural-key columns, in hashing order. For a
	// hash-keyed table hash_id = hashkey.Key(values of KeyColumns...).
	KeyColumns []string
	// Hashed marks tables whose primary key is hash_id.
	Hashed  bool
	Indexes []Index
	// Check is an optional table constraint.
	Check string
}

// Column returns the declared column called name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames lists the declared column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS.
func (t Table) CreateSQL() string {
	return t.createSQL(t.Name)
}

// CreateSQLAs renders the table definition under another name; used when a
// table is rebuilt.
func (t Table) CreateSQLAs(name string) string {
	return t.createSQL(name)
}

func (t Table) createSQL(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", dbpkg.QuoteIdent(name))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", dbpkg.QuoteIdent(c.Name), c.Decl)
	}
	if t.Check != "" {
		fmt.Fprintf(&b, ",\n    CHECK (%s)", t.Check)
	}
	b.WriteString("\n)")
	if t.Hashed {
		b.WriteString(" WITHOUT ROWID")
	}
	return b.String()
}

// IndexSQL renders CREATE INDEX IF NOT EXISTS statements.
func (t Table) IndexSQL() []string {
	out := make([]string, 0, len(t.Indexes))
	for _, ix := range t.Indexes {
		out = append(out, ix.SQL(t.Name))
	}
	return out
}

func (ix Index) SQL(table string) string {
	cols := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = dbpkg.QuoteIdent(c)
	}
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, dbpkg.QuoteIdent(ix.Name), dbpkg.QuoteIdent(table), strings.Join(cols, ", "))
}

// Computed is an aggregate column derived from the group key with a SQL
// expression over the content table's columns.
type Computed struct {
	Name string
	Expr string
}

// Aggregate describes a category-like table rebuilt from the content table
// with GROUP BY.
type Aggregate struct {
	Table Table
	// GroupBy are content-table columns, mapped positionally onto
	// Table.KeyColumns.
	GroupBy  []string
	Computed []Computed
	// Preserve names hand-edited columns carried across rebuilds.
	Preserve []string
}

// Domain is everything one generation file of a content type holds.
type Domain struct {
	Name       string
	Content    Table
	Aggregates []Aggregate
	Overview   Table
	// Version is the schema version the declared layout corresponds to;
	// stored in PRAGMA user_version.
	Version int
}

// Tables lists every declared table, content first.
func (d Domain) Tables() []Table {
	out := []Table{d.Content}
	for _, a := range d.Aggregates {
		out = append(out, a.Table)
	}
	return append(out, d.Overview)
}

// Table returns the declared table called name.
func (d Domain) Table(name string) (Table, bool) {
	for _, t := range d.Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

var registry = map[string]Domain{}

// Register adds a domain definition. It panics on a duplicate name.
func Register(d Domain) {
	if _, ok := registry[d.Name]; ok {
		panic("schema: domain registered twice: " + d.Name)
	}
	registry[d.Name] = d
}

// Lookup returns the registered domain called name.
func Lookup(name string) (Domain, error) {
	d, ok := registry[name]
	if !ok {
		return Domain{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDomain, name, strings.Join(Domains(), ", "))
	}
	return d, nil
}

// Domains lists registered domain names in order.
func Domains() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
