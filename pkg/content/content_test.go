package content

import (
	"context"
	"path/filepath"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedevtools/fdtdb/models"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

func writeFiles(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, body := range files {
		if dir := filepath.Dir(name); dir != "." {
			require.NoError(t, fs.MkdirAll(dir, 0o755))
		}
		require.NoError(t, util.WriteFile(fs, name, []byte(body), 0o644))
	}
	return fs
}

func newSource(t *testing.T, files map[string]string, exclude ...string) *Source {
	t.Helper()
	src, err := NewSource(writeFiles(t, files), exclude)
	require.NoError(t, err)
	return src
}

func setupDomainDB(t *testing.T, domain string) (*dbpkg.DB, schema.Domain) {
	t.Helper()
	d, err := schema.Lookup(domain)
	require.NoError(t, err)

	db, err := dbpkg.Open(filepath.Join(t.TempDir(), domain+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, schema.EnsureSchema(context.Background(), db, d))
	return db, d
}

func manPage(title string) string {
	return "---\ntitle: " + title + "\ndescription: " + title + " manual\nkeywords: [text, unix]\n---\n# " + title + "\n\nbody of " + title + "\n"
}

func countStatus(outcomes []models.Outcome, s models.Status) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

func TestLoadManPages(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.ManPages)
	src := newSource(t, map[string]string{
		"utilities/text/grep.1.md": manPage("grep - print lines that match patterns"),
		"utilities/text/sed.1.md":  manPage("sed - stream editor"),
		"utilities/text/awk.1.md":  manPage("awk"),
		"utilities/text/notes.txt": "ignored, wrong extension",
		"drafts/text/wip.md":       manPage("wip"),
	}, "drafts/")

	res, err := Load(ctx, db, d, src, Options{})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, 3, countStatus(res.Outcomes, models.StatusInserted))

	var title, filename string
	err = db.QueryRowContext(ctx,
		"SELECT title, filename FROM man_pages WHERE hash_id = ?",
		hashkey.Key("utilities", "text", "grep")).Scan(&title, &filename)
	require.NoError(t, err)
	assert.Equal(t, "grep - print lines that match patterns", title)
	assert.Equal(t, "grep.1.md", filename)

	n, err := dbpkg.CountRows(ctx, db, "man_pages")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.ManPages)
	files := map[string]string{
		"utilities/text/grep.md": manPage("grep"),
		"utilities/text/sed.md":  manPage("sed"),
	}

	_, err := Load(ctx, db, d, newSource(t, files), Options{})
	require.NoError(t, err)

	res, err := Load(ctx, db, d, newSource(t, files), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusSkipped))
	for _, o := range res.Outcomes {
		assert.Equal(t, "duplicate natural key", o.Reason)
	}
}

func TestLoadDryRunAndLimit(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.TLDR)
	src := newSource(t, map[string]string{
		"linux/ls.md":      "---\ntitle: ls\ndescription: List files\n---\n# ls\n\n- list: `ls`\n",
		"linux/cat.md":     "---\ntitle: cat\n---\n# cat\n",
		"common/git.md":    "---\ntitle: git\n---\n# git\n",
		"common/broken.md": "no frontmatter here",
	})

	res, err := Load(ctx, db, d, src, Options{DryRun: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusSkipped))
	assert.Equal(t, 1, countStatus(res.Outcomes, models.StatusFailed))

	n, err := dbpkg.CountRows(ctx, db, "tldr_pages")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmojiWithoutCategory(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Emojis)
	src := newSource(t, map[string]string{
		"smiling-face.json": `{"slug":"smiling-face","title":"Smiling Face","code":"☺️","keywords":["smile","happy"],"Unicode":["U+263A"],"version":{"unicode":"1.1"}}`,
		"grinning.json":     `{"slug":"grinning-face","category":"Smileys & Emotion","title":"Grinning Face"}`,
	})

	res, err := Load(ctx, db, d, src, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, countStatus(res.Outcomes, models.StatusInserted))

	id := hashkey.Key("smiling-face")
	require.Equal(t, hashkey.Key("", "smiling-face"), id)

	rec, err := Lookup(ctx, db, d.Content, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "smiling-face"}, rec.NaturalKey)
	assert.Equal(t, "Smiling Face", rec.Title)
	assert.Equal(t, []string{"smile", "happy"}, rec.Keywords)

	var unicode, version string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT unicode, version FROM emojis WHERE hash_id = ?", id).Scan(&unicode, &version))
	assert.Equal(t, `["U+263A"]`, unicode)
	assert.Equal(t, `{"unicode":"1.1"}`, version)
}

func TestWriterInsertThenLookup(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	rec := &models.Record{
		Domain:      schema.Cheatsheets,
		NaturalKey:  []string{"git", "basics"},
		Title:       "Git Basics",
		Description: "Everyday commands",
		Keywords:    []string{"git"},
		Payload:     "<p>git status</p>",
	}
	out, err := NewWriter(db, d.Content).Write(ctx, []*models.Record{rec})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.StatusInserted, out[0].Status)
	assert.Equal(t, hashkey.Key("git", "basics"), out[0].HashID)

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("git", "basics"))
	require.NoError(t, err)
	assert.Equal(t, rec.NaturalKey, got.NaturalKey)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, rec.Keywords, got.Keywords)
	assert.Equal(t, rec.Payload, got.Payload)
}

func TestWriterCollisionRollsBack(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	// a row whose hash_id belongs to git/basics but whose natural key differs
	_, err := db.ExecContext(ctx,
		"INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'other', 'page')",
		hashkey.Key("git", "basics"))
	require.NoError(t, err)

	records := []*models.Record{
		{NaturalKey: []string{"docker", "ps"}, Title: "ps"},
		{NaturalKey: []string{"git", "basics"}, Title: "Git Basics"},
	}
	_, err = NewWriter(db, d.Content).Write(ctx, records)
	require.ErrorIs(t, err, ErrCollision)

	n, err := dbpkg.CountRows(ctx, db, "cheatsheet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "docker/ps must be rolled back with the batch")
}

func TestWriterDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	records := []*models.Record{
		{NaturalKey: []string{"git", "basics"}, Title: "first"},
		{NaturalKey: []string{"git", "basics"}, Title: "second"},
		{NaturalKey: []string{"git"}, Title: "short key"},
	}
	out, err := NewWriter(db, d.Content).Write(ctx, records)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, models.StatusInserted, out[0].Status)
	assert.Equal(t, models.StatusSkipped, out[1].Status)
	assert.Equal(t, models.StatusFailed, out[2].Status)

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("git", "basics"))
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestWriterUnencodableRecordDoesNotBlockItsKey(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	records := []*models.Record{
		{NaturalKey: []string{"git", "basics"}, Title: "broken", Extra: map[string]any{"ch": make(chan int)}},
		{NaturalKey: []string{"git", "basics"}, Title: "fixed"},
	}
	out, err := NewWriter(db, d.Content).Write(ctx, records)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.StatusFailed, out[0].Status)
	assert.Contains(t, out[0].Reason, "failed to encode extra")
	assert.Equal(t, models.StatusInserted, out[1].Status)

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("git", "basics"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Title)
}

func TestWriterSeenKeyWithoutRowFailsRecord(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	w := NewWriter(db, d.Content)
	w.guard.Observe(hashkey.Key("git", "basics"))

	out, err := w.Write(ctx, []*models.Record{
		{NaturalKey: []string{"git", "basics"}, Title: "Git"},
		{NaturalKey: []string{"docker", "ps"}, Title: "ps"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.StatusFailed, out[0].Status)
	assert.Equal(t, models.StatusInserted, out[1].Status)
}

func TestWriterReportsSchemeDrift(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)

	_, err := db.ExecContext(ctx,
		"INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'git', 'basics')",
		hashkey.WithSlash.Apply("git", "basics"))
	require.NoError(t, err)

	out, err := NewWriter(db, d.Content).Write(ctx, []*models.Record{{NaturalKey: []string{"git", "basics"}}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.StatusFailed, out[0].Status)
	assert.Contains(t, out[0].Reason, "run verify")
}

func TestLoadCheatsheets(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)
	src := newSource(t, map[string]string{
		"git/Git Basics.html": `<html><head><title>Git Basics</title><meta name="keywords" content="git,vcs"><meta name="description" content="Everyday git"></head><body><p>git status</p></body></html>`,
		"top.html":            `<html></html>`,
	})

	res, err := Load(ctx, db, d, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, countStatus(res.Outcomes, models.StatusInserted))
	assert.Equal(t, 1, countStatus(res.Outcomes, models.StatusFailed))

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("git", "Git-Basics"))
	require.NoError(t, err)
	assert.Equal(t, "Everyday git", got.Description)
	assert.Equal(t, []string{"git", "vcs"}, got.Keywords)
	assert.Equal(t, "<p>git status</p>", got.Payload)
}

func TestCheatsheetKeywordsDerivedFromText(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.Cheatsheets)
	src := newSource(t, map[string]string{
		"docker/Volumes.html": `<html><head><title>Volumes</title><meta name="description" content="Docker volumes"></head>` +
			"<body>\n<p>docker volume create</p>\n<p>docker volume ls</p>\n<p>docker volume rm</p>\n<p>prune</p>\n</body></html>",
	})

	_, err := Load(ctx, db, d, src, Options{})
	require.NoError(t, err)

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("docker", "Volumes"))
	require.NoError(t, err)
	require.NotEmpty(t, got.Keywords)
	assert.Equal(t, []string{"docker", "volume"}, got.Keywords[:2])

	var extra string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT extra FROM cheatsheet WHERE hash_id = ?",
		hashkey.Key("docker", "Volumes")).Scan(&extra))
	assert.Contains(t, extra, `"keywords_source":"derived"`)
}

func TestLoadMCP(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.MCP)
	src := newSource(t, map[string]string{
		"databases.json": `{
			"category": "databases",
			"categoryDisplay": "Databases",
			"description": "Database servers",
			"repositories": {
				"acme/sqlite-mcp": {"name": "sqlite-mcp", "owner": "acme", "stars": 120, "forks": 7, "language": "Go", "readme_content": "# sqlite-mcp"},
				"acme/pg-mcp": {"name": "pg-mcp", "owner": "acme", "stars": "15"},
				"bad": 3
			}
		}`,
		"empty.json": `{"repositories": {}}`,
	})

	res, err := Load(ctx, db, d, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusInserted))
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusFailed))
	assert.Equal(t, "Database servers", res.Categories["databases"].Description)

	var stars, forks int64
	var owner, readme string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT stars, forks, owner, content FROM mcp_pages WHERE hash_id = ?",
		hashkey.Key("databases", "acme/sqlite-mcp")).Scan(&stars, &forks, &owner, &readme))
	assert.Equal(t, int64(120), stars)
	assert.Equal(t, int64(7), forks)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "# sqlite-mcp", readme)

	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT stars FROM mcp_pages WHERE hash_id = ?", hashkey.Key("databases", "acme/pg-mcp")).Scan(&stars))
	assert.Equal(t, int64(15), stars)
}

func TestLoadSVGIcons(t *testing.T) {
	ctx := context.Background()
	db, d := setupDomainDB(t, schema.SVGIcons)
	files := map[string]string{
		"arrows/left.svg":  `<?xml version="1.0"?><!-- x --><svg xmlns="http://www.w3.org/2000/svg" width="24px" height="24" viewBox="0 0 24 24">  <path d="M0 0"/></svg>`,
		"arrows/right.svg": `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 16"><title>Right arrow</title></svg>`,
		"arrows/bad.svg":   `not an svg`,
		"loose.svg":        `<svg></svg>`,
	}
	res, err := Load(ctx, db, d, newSource(t, files), Options{Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusInserted))
	assert.Equal(t, 2, countStatus(res.Outcomes, models.StatusFailed))

	var content string
	var width, height int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT content, width, height FROM svg_icons WHERE hash_id = ?", hashkey.Key("arrows", "left")).Scan(&content, &width, &height))
	assert.Equal(t, `<svg xmlns="http://www.w3.org/2000/svg" width="24px" height="24" viewBox="0 0 24 24"><path d="M0 0"/></svg>`, content)
	assert.Equal(t, 24, width)
	assert.Equal(t, 24, height)

	got, err := Lookup(ctx, db, d.Content, hashkey.Key("arrows", "right"))
	require.NoError(t, err)
	assert.Equal(t, "Right arrow", got.Title)

	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT width, height FROM svg_icons WHERE hash_id = ?", hashkey.Key("arrows", "right")).Scan(&width, &height))
	assert.Equal(t, 32, width)
	assert.Equal(t, 16, height)
}

func TestSourceIgnoreFile(t *testing.T) {
	src := newSource(t, map[string]string{
		IgnoreFile:       "*.bak\nprivate/\n",
		"a/keep.md":      "",
		"a/old.md.bak":   "",
		"private/key.md": "",
	})
	files, err := src.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/keep.md"}, files)
}

func TestReaderForUnknownDomain(t *testing.T) {
	_, err := ReaderFor("bookmarks")
	assert.Error(t, err)
	for _, name := range schema.Domains() {
		_, err := ReaderFor(name)
		assert.NoError(t, err, name)
	}
}
