package migrate

import (
	"fmt"
	"regexp"
	"strings"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// tableDef is a CREATE TABLE statement split into its top-level column and
// constraint definitions plus whatever follows the closing parenthesis.
type tableDef struct {
	defs    []string
	trailer string
}

// parseCreateTable splits the sqlite_master.sql of a table.
func parseCreateTable(stmt string) (*tableDef, error) {
	stmt = stripComments(stmt)
	open := strings.IndexByte(stmt, '(')
	if open < 0 {
		return nil, fmt.Errorf("no column list in %q", stmt)
	}
	defs, end, err := splitDefs(stmt[open+1:])
	if err != nil {
		return nil, err
	}
	return &tableDef{defs: defs, trailer: strings.TrimSpace(stmt[open+1+end+1:])}, nil
}

// quoteEnd returns the index of the character closing the quoted
// identifier or literal that starts at s[i], or -1.
func quoteEnd(s string, i int) int {
	closer := s[i]
	if closer == '[' {
		closer = ']'
	}
	j := strings.IndexByte(s[i+1:], closer)
	if j < 0 {
		return -1
	}
	return i + 1 + j
}

// stripComments removes -- and /* */ comments outside quotes.
func stripComments(stmt string) string {
	var b strings.Builder
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			end := quoteEnd(stmt, i)
			if end < 0 {
				b.WriteString(stmt[i:])
				return b.String()
			}
			b.WriteString(stmt[i : end+1])
			i = end
		case strings.HasPrefix(stmt[i:], "--"):
			end := strings.IndexByte(stmt[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
		case strings.HasPrefix(stmt[i:], "/*"):
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// splitDefs splits body at top-level commas up to the parenthesis that
// closes the column list, returning the definitions and that parenthesis'
// offset.
func splitDefs(body string) ([]string, int, error) {
	var defs []string
	depth, start := 0, 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; c {
		case '\'', '"', '`', '[':
			end := quoteEnd(body, i)
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated %c in table definition", c)
			}
			i = end
		case '(':
			depth++
		case ')':
			if depth == 0 {
				defs = append(defs, strings.TrimSpace(body[start:i]))
				return defs, i, nil
			}
			depth--
		case ',':
			if depth == 0 {
				defs = append(defs, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	return nil, 0, fmt.Errorf("unterminated table definition")
}

var constraintWords = map[string]bool{
	"CONSTRAINT": true, "PRIMARY": true, "UNIQUE": true, "CHECK": true, "FOREIGN": true,
}

// leadingIdent returns the column named by a column definition, or "" for a
// table constraint.
func leadingIdent(def string) string {
	if def == "" {
		return ""
	}
	switch c := def[0]; c {
	case '"', '`', '\'':
		if j := strings.IndexByte(def[1:], c); j >= 0 {
			return def[1 : j+1]
		}
		return ""
	case '[':
		if j := strings.IndexByte(def, ']'); j >= 0 {
			return def[1:j]
		}
		return ""
	}
	word := def
	if j := strings.IndexAny(def, " \t\r\n("); j >= 0 {
		word = def[:j]
	}
	if constraintWords[strings.ToUpper(word)] {
		return ""
	}
	return word
}

// mentions reports whether expr refers to column as an identifier.
func mentions(expr, column string) bool {
	re := regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_$])["\x60\[]?` + regexp.QuoteMeta(column) + `["\x60\]]?([^A-Za-z0-9_$]|$)`)
	return re.MatchString(expr)
}

// replacementSQL renders the definition of table without column under the
// name tmp. A table the domain declares is rendered from its declaration,
// keeping its CHECK and WITHOUT ROWID; undeclared columns it has on disk keep
// their original definitions. Any other table is rendered from its original
// statement, so constraints, collations and AUTOINCREMENT survive.
func replacementSQL(tmp, original string, d schema.Domain, table, column string, keep []dbpkg.ColumnInfo) (string, error) {
	def, err := parseCreateTable(original)
	if err != nil {
		return "", fmt.Errorf("failed to parse definition of %s: %w", table, err)
	}
	originalCol := make(map[string]string, len(def.defs))
	for _, s := range def.defs {
		if name := leadingIdent(s); name != "" {
			originalCol[strings.ToLower(name)] = s
		}
	}

	if t, ok := d.Table(table); ok {
		if t.Hashed && strings.EqualFold(column, schema.HashColumn) {
			return "", fmt.Errorf("cannot drop key column %s of %s", column, table)
		}
		for _, k := range t.KeyColumns {
			if strings.EqualFold(k, column) {
				return "", fmt.Errorf("cannot drop key column %s of %s", column, table)
			}
		}
		if t.Check != "" && mentions(t.Check, column) {
			return "", fmt.Errorf("cannot drop %s.%s: used by CHECK (%s)", table, column, t.Check)
		}
		rebuilt := t
		rebuilt.Columns = nil
		for _, c := range keep {
			if decl, ok := t.Column(c.Name); ok {
				rebuilt.Columns = append(rebuilt.Columns, decl)
				continue
			}
			s, ok := originalCol[strings.ToLower(c.Name)]
			if !ok {
				return "", fmt.Errorf("no definition of %s.%s", table, c.Name)
			}
			rebuilt.Columns = append(rebuilt.Columns, schema.Column{
				Name: c.Name,
				Decl: strings.TrimSpace(s[len(quotedPrefix(s, leadingIdent(s))):]),
			})
		}
		return rebuilt.CreateSQLAs(tmp), nil
	}

	var defs []string
	for _, s := range def.defs {
		if name := leadingIdent(s); name != "" {
			if strings.EqualFold(name, column) {
				continue
			}
			defs = append(defs, s)
			continue
		}
		if mentions(s, column) {
			return "", fmt.Errorf("cannot drop %s.%s: used by %s", table, column, s)
		}
		defs = append(defs, s)
	}
	out := fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", dbpkg.QuoteIdent(tmp), strings.Join(defs, ",\n    "))
	if def.trailer != "" {
		out += " " + def.trailer
	}
	return out, nil
}

// quotedPrefix is the leading column name of def as written, quotes
// included.
func quotedPrefix(def, name string) string {
	if def != "" && strings.ContainsRune("\"`'[", rune(def[0])) {
		return def[:len(name)+2]
	}
	return def[:len(name)]
}
