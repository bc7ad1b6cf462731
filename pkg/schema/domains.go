package schema

import "strings"

const (
	ManPages    = "man-pages"
	Cheatsheets = "cheatsheets"
	MCP         = "mcp"
	TLDR        = "tldr"
	Emojis      = "emojis"
	SVGIcons    = "svg-icons"
)

// Well-known content columns shared by every domain.
const (
	ColTitle       = "title"
	ColDescription = "description"
	ColKeywords    = "keywords"
	ColContent     = "content"
	ColExtra       = "extra"
	ColUpdatedAt   = "updated_at"
)

const (
	textCol    = "TEXT NOT NULL DEFAULT ''"
	jsonList   = "TEXT NOT NULL DEFAULT '[]'"
	jsonObject = "TEXT NOT NULL DEFAULT '{}'"
	intCol     = "INTEGER NOT NULL DEFAULT 0"
)

// contentTable builds a hash-keyed content table: hash_id, the natural key,
// the shared metadata columns, then domain-specific columns.
func contentTable(name string, keys []string, extra ...Column) Table {
	cols := []Column{{Name: HashColumn, Decl: "INTEGER PRIMARY KEY"}}
	for _, k := range keys {
		cols = append(cols, Column{Name: k, Decl: textCol})
	}
	cols = append(cols,
		Column{Name: ColTitle, Decl: textCol},
		Column{Name: ColDescription, Decl: textCol},
		Column{Name: ColKeywords, Decl: jsonList},
		Column{Name: ColContent, Decl: textCol},
	)
	cols = append(cols, extra...)
	cols = append(cols,
		Column{Name: ColExtra, Decl: jsonObject},
		Column{Name: ColUpdatedAt, Decl: textCol},
	)

	return Table{
		Name:       name,
		Columns:    cols,
		KeyColumns: keys,
		Hashed:     true,
		Indexes: []Index{
			{Name: "idx_" + name + "_natural_key", Columns: keys, Unique: true},
		},
	}
}

func aggregateColumns(lead ...Column) []Column {
	return append(lead,
		Column{Name: "count", Decl: intCol},
		Column{Name: ColDescription, Decl: textCol},
		Column{Name: ColKeywords, Decl: jsonList},
		Column{Name: "path", Decl: textCol},
	)
}

// categoryAggregate is a table keyed by name holding one row per distinct
// value of groupCol.
func categoryAggregate(table, groupCol, urlPrefix string) Aggregate {
	return Aggregate{
		Table: Table{
			Name:       table,
			Columns:    aggregateColumns(Column{Name: "name", Decl: "TEXT PRIMARY KEY"}),
			KeyColumns: []string{"name"},
		},
		GroupBy: []string{groupCol},
		Computed: []Computed{
			{Name: "path", Expr: sqlString(urlPrefix) + " || " + groupCol + " || '/'"},
		},
		Preserve: []string{ColDescription, ColKeywords},
	}
}

func overviewTable() Table {
	return Table{
		Name: "overview",
		Columns: []Column{
			{Name: "id", Decl: "INTEGER PRIMARY KEY"},
			{Name: "total_count", Decl: intCol},
			{Name: "total_category_count", Decl: intCol},
			{Name: "last_updated_at", Decl: textCol},
		},
		KeyColumns: []string{"id"},
		Check:      "id = 1",
	}
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func init() {
	Register(Domain{
		Name: ManPages,
		Content: contentTable("man_pages", []string{"main_category", "sub_category", "slug"},
			Column{Name: "filename", Decl: textCol},
		),
		Aggregates: []Aggregate{
			categoryAggregate("category", "main_category", "/freedevtools/man-pages/"),
			{
				Table: Table{
					Name: "sub_category",
					Columns: aggregateColumns(
						Column{Name: HashColumn, Decl: "INTEGER PRIMARY KEY"},
						Column{Name: "main_category", Decl: textCol},
						Column{Name: "name", Decl: textCol},
					),
					KeyColumns: []string{"main_category", "name"},
					Hashed:     true,
					Indexes: []Index{
						{Name: "idx_sub_category_main_cat", Columns: []string{"main_category", "name"}, Unique: true},
					},
				},
				GroupBy: []string{"main_category", "sub_category"},
				Computed: []Computed{
					{Name: "path", Expr: "'/freedevtools/man-pages/' || main_category || '/' || sub_category || '/'"},
				},
				Preserve: []string{ColDescription, ColKeywords},
			},
		},
		Overview: overviewTable(),
		Version:  3,
	})

	Register(Domain{
		Name:       Cheatsheets,
		Content:    contentTable("cheatsheet", []string{"category", "slug"}),
		Aggregates: []Aggregate{categoryAggregate("category", "category", "/freedevtools/c/")},
		Overview:   overviewTable(),
		Version:    2,
	})

	Register(Domain{
		Name: MCP,
		Content: contentTable("mcp_pages", []string{"category", "key"},
			Column{Name: "name", Decl: textCol},
			Column{Name: "owner", Decl: textCol},
			Column{Name: "stars", Decl: intCol},
			Column{Name: "forks", Decl: intCol},
			Column{Name: "language", Decl: textCol},
			Column{Name: "license", Decl: textCol},
			Column{Name: "repo_updated_at", Decl: textCol},
		),
		Aggregates: []Aggregate{categoryAggregate("category", "category", "/freedevtools/mcp/")},
		Overview:   overviewTable(),
		Version:    2,
	})

	Register(Domain{
		Name:       TLDR,
		Content:    contentTable("tldr_pages", []string{"platform", "command"}),
		Aggregates: []Aggregate{categoryAggregate("cluster", "platform", "/freedevtools/tldr/")},
		Overview:   overviewTable(),
		Version:    1,
	})

	Register(Domain{
		Name: Emojis,
		Content: contentTable("emojis", []string{"category", "slug"},
			Column{Name: "code", Decl: textCol},
			Column{Name: "unicode", Decl: textCol},
			Column{Name: "version", Decl: textCol},
		),
		Aggregates: []Aggregate{categoryAggregate("category", "category", "/freedevtools/emojis/")},
		Overview:   overviewTable(),
		Version:    3,
	})

	Register(Domain{
		Name: SVGIcons,
		Content: contentTable("svg_icons", []string{"cluster", "name"},
			Column{Name: "base64", Decl: textCol},
			Column{Name: "width", Decl: intCol},
			Column{Name: "height", Decl: intCol},
		),
		Aggregates: []Aggregate{categoryAggregate("cluster", "cluster", "/freedevtools/svg_icons/")},
		Overview:   overviewTable(),
		Version:    1,
	})
}
