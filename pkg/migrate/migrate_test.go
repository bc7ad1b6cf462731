package migrate

import (
	"context"
	"crypto/sha256"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	"github.com/freedevtools/fdtdb/pkg/verify"
)

// seed creates generation 1 of a domain at user_version 1 and lets fill
// write rows into it.
func seed(t *testing.T, domain string, fill func(db *dbpkg.DB)) (*storage.Store, schema.Domain) {
	t.Helper()
	ctx := context.Background()
	d, err := schema.Lookup(domain)
	require.NoError(t, err)

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	db, err := dbpkg.Open(store.GenerationPath(domain, 1))
	require.NoError(t, err)
	require.NoError(t, schema.EnsureSchema(ctx, db, d))
	if fill != nil {
		fill(db)
	}
	require.NoError(t, dbpkg.SetUserVersion(ctx, db, 1))
	require.NoError(t, db.Finalize(ctx))
	require.NoError(t, db.Close())
	return store, d
}

func exec(t *testing.T, db *dbpkg.DB, query string, args ...any) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

func fileSum(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

func snapshot(t *testing.T, path string) []string {
	t.Helper()
	db, err := dbpkg.OpenReadOnly(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	lines, err := schema.Snapshot(context.Background(), db)
	require.NoError(t, err)
	return lines
}

func TestRunRekeysCopyAndLeavesSourceAlone(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.Cheatsheets, func(db *dbpkg.DB) {
		exec(t, db, "INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'git', 'basics')", hashkey.WithSlash.Apply("git", "basics"))
		exec(t, db, "INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'docker', 'ps')", hashkey.Key("docker", "ps"))
		exec(t, db, "INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'Vim', 'Motions')", hashkey.Lowercase.Apply("Vim", "Motions"))
	})
	src := store.GenerationPath(d.Name, 1)
	before := fileSum(t, src)
	srcSchema := snapshot(t, src)

	res, err := NewEngine(store).Run(ctx, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, 1, res.FromVersion)
	assert.Equal(t, 2, res.ToVersion)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "rekey-cheatsheet", res.Steps[0].Name)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, before, fileSum(t, src), "source must be byte-identical")
	assert.False(t, store.HasFile(storage.FileName(d.Name, 1)+".lock"))

	dst, err := dbpkg.OpenReadOnly(store.GenerationPath(d.Name, 2))
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()

	n, err := dbpkg.CountRows(ctx, dst, "cheatsheet")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rep, err := verify.Verify(ctx, dst, d.Content)
	require.NoError(t, err)
	assert.True(t, rep.OK())

	v, err := dst.UserVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	journal, err := Journal(ctx, dst)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, res.RunID, journal[0].RunID)
	assert.Equal(t, KindRekey, journal[0].Kind)

	dstSchema := snapshot(t, store.GenerationPath(d.Name, 2))
	for _, line := range srcSchema {
		assert.Contains(t, dstSchema, line)
	}
}

func TestRunNothingPending(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.Cheatsheets, nil)
	e := NewEngine(store)

	_, err := e.Run(ctx, d, Options{})
	require.NoError(t, err)

	res, err := e.Run(ctx, d, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Pending)
	assert.Equal(t, StateSourceLocked, res.State)
	assert.False(t, store.HasFile(storage.FileName(d.Name, 3)))
}

func TestRunDryRun(t *testing.T) {
	store, d := seed(t, schema.ManPages, nil)
	res, err := NewEngine(store).Run(context.Background(), d, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"v2 rekey-man_pages (rekey)",
		"v3 sync-schema (schema)",
		"v3 rebuild-aggregates (data)",
	}, res.Pending)
	assert.False(t, store.HasFile(storage.FileName(d.Name, 2)))
}

func TestRunEmojiPlan(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.Emojis, func(db *dbpkg.DB) {
		exec(t, db, `CREATE TABLE images (
			emoji_slug_hash INTEGER NOT NULL,
			filename TEXT NOT NULL,
			image_data BLOB,
			image_type TEXT NOT NULL DEFAULT 'png',
			PRIMARY KEY (emoji_slug_hash, filename)
		) WITHOUT ROWID`)
		exec(t, db, "CREATE INDEX idx_images_filename ON images (filename)")
		exec(t, db, "CREATE INDEX idx_images_data ON images (image_data)")
		exec(t, db, "INSERT INTO images (emoji_slug_hash, filename, image_data) VALUES (1, 'a.png', x'00ff'), (2, 'b.png', x'ff00')")

		// legacy key: "|"-joined
		exec(t, db, "INSERT INTO emojis (hash_id, category, slug, title) VALUES (?, 'Smileys', 'grinning-face', 'Grinning')",
			hashkey.WithPipe.Apply("Smileys", "grinning-face"))
		exec(t, db, "INSERT INTO emojis (hash_id, category, slug, title) VALUES (?, '', 'smiling-face', 'Smiling')",
			hashkey.Key("smiling-face"))
	})
	src := store.GenerationPath(d.Name, 1)
	before := fileSum(t, src)

	res, err := NewEngine(store).Run(ctx, d, Options{Publish: true})
	require.NoError(t, err)
	assert.Equal(t, StatePublished, res.State)
	assert.Equal(t, 3, res.ToVersion)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, before, fileSum(t, src))

	published, err := store.IsPublished(d.Name, 2)
	require.NoError(t, err)
	assert.True(t, published)

	dst, err := dbpkg.OpenReadOnly(store.GenerationPath(d.Name, 2))
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()

	has, err := dbpkg.ColumnExists(ctx, dst, "images", "image_data")
	require.NoError(t, err)
	assert.False(t, has)
	n, err := dbpkg.CountRows(ctx, dst, "images")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var indexes []string
	rows, err := dst.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'images' AND sql IS NOT NULL")
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"idx_images_filename"}, indexes)

	var sql string
	require.NoError(t, dst.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE name = 'images'").Scan(&sql))
	assert.Contains(t, sql, "WITHOUT ROWID")

	var title string
	require.NoError(t, dst.QueryRowContext(ctx,
		"SELECT title FROM emojis WHERE hash_id = ?", hashkey.Key("Smileys", "grinning-face")).Scan(&title))
	assert.Equal(t, "Grinning", title)

	var count int64
	require.NoError(t, dst.QueryRowContext(ctx, "SELECT count FROM category WHERE name = ''").Scan(&count))
	assert.Equal(t, int64(1), count)
}

func TestRunFailedStepKeepsCopyForInspection(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.TLDR, func(db *dbpkg.DB) {
		exec(t, db, "INSERT INTO tldr_pages (hash_id, platform, command) VALUES (?, 'linux', 'ls')", hashkey.Key("linux", "ls"))
		exec(t, db, "INSERT INTO tldr_pages (hash_id, platform, command) VALUES (?, 'linux', 'cat')", hashkey.Key("linux", "cat"))
	})
	src := store.GenerationPath(d.Name, 1)
	before := fileSum(t, src)

	bad := ExecSQL("prune-linux", 2, KindSchema, "DELETE FROM tldr_pages WHERE platform = 'linux'")
	res, err := NewEngine(store).Run(ctx, d, Options{Extra: []Step{bad}})
	require.ErrorIs(t, err, verify.ErrVerificationFailed)
	assert.Equal(t, StateCopied, res.State)
	assert.Equal(t, before, fileSum(t, src))

	// the copy is moved aside and generation 1 stays the latest
	assert.Equal(t, store.Path(storage.FileName(d.Name, 2)+".failed"), res.Dest)
	assert.False(t, store.HasFile(storage.FileName(d.Name, 2)))
	latest, err := store.Latest(d.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	// the failed step rolled back on the copy
	dst, err := dbpkg.OpenReadOnly(res.Dest)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	n, err := dbpkg.CountRows(ctx, dst, "tldr_pages")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	journal, err := Journal(ctx, dst)
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestRunAfterFailureStartsFromLastGoodGeneration(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.Cheatsheets, func(db *dbpkg.DB) {
		exec(t, db, "INSERT INTO cheatsheet (hash_id, category, slug) VALUES (?, 'git', 'basics')", hashkey.WithSlash.Apply("git", "basics"))
	})
	e := NewEngine(store)

	boom := ExecSQL("boom", 2, KindData, "SELECT * FROM no_such_table")
	res, err := e.Run(ctx, d, Options{Extra: []Step{boom}})
	require.Error(t, err)
	require.Len(t, res.Steps, 1, "rekey committed on the copy before the failure")

	latest, err := store.Latest(d.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	res, err = e.Run(ctx, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, store.GenerationPath(d.Name, 1), res.Source)
	assert.Equal(t, store.GenerationPath(d.Name, 2), res.Dest)
	assert.Equal(t, StateVerified, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "rekey-cheatsheet", res.Steps[0].Name)
	assert.False(t, store.IsIncomplete(storage.FileName(d.Name, 2)))

	dst, err := dbpkg.OpenReadOnly(store.GenerationPath(d.Name, 2))
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	rep, err := verify.Verify(ctx, dst, d.Content)
	require.NoError(t, err)
	assert.True(t, rep.OK())
}

func TestRunReplacesStaleIncompleteCopy(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.Cheatsheets, nil)
	name := storage.FileName(d.Name, 2)
	require.NoError(t, store.MarkIncomplete(name, "crashed-run"))
	require.NoError(t, store.Copy(storage.FileName(d.Name, 1), name))

	res, err := NewEngine(store).Run(ctx, d, Options{})
	require.NoError(t, err)
	assert.Equal(t, store.GenerationPath(d.Name, 1), res.Source)
	assert.Equal(t, StateVerified, res.State)
	assert.False(t, store.IsIncomplete(name))
	assert.True(t, store.HasFile(name+".failed"))

	latest, err := store.Latest(d.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

func TestRunRefusesPublishBelowDomainVersion(t *testing.T) {
	store, d := seed(t, schema.ManPages, nil)
	res, err := NewEngine(store).Run(context.Background(), d, Options{Target: 2, Publish: true})
	require.ErrorIs(t, err, verify.ErrVerificationFailed)
	assert.Equal(t, StateVerified, res.State)

	published, err := store.IsPublished(d.Name, 2)
	require.NoError(t, err)
	assert.False(t, published)
	assert.True(t, store.HasFile(storage.FileName(d.Name, 2)))
}

func TestRunRefusesLockedSource(t *testing.T) {
	store, d := seed(t, schema.Cheatsheets, nil)
	l, err := store.Lock(storage.FileName(d.Name, 1), "other-run")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, err = NewEngine(store).Run(context.Background(), d, Options{})
	assert.ErrorIs(t, err, storage.ErrLocked)
	assert.False(t, store.HasFile(storage.FileName(d.Name, 2)))
}

func TestTouchUpdatedAtIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store, d := seed(t, schema.SVGIcons, func(db *dbpkg.DB) {
		exec(t, db, "INSERT INTO svg_icons (hash_id, cluster, name) VALUES (?, 'arrows', 'left')", hashkey.Key("arrows", "left"))
	})
	e := NewEngine(store)

	for gen := 2; gen <= 3; gen++ {
		res, err := e.Run(ctx, d, Options{Extra: []Step{TouchUpdatedAt(1)}})
		require.NoError(t, err)
		require.Len(t, res.Steps, 1)
		assert.True(t, store.HasFile(storage.FileName(d.Name, gen)))
	}

	dst, err := dbpkg.OpenReadOnly(store.GenerationPath(d.Name, 3))
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	var stamp string
	require.NoError(t, dst.QueryRowContext(ctx, "SELECT updated_at FROM svg_icons").Scan(&stamp))
	assert.NotEmpty(t, stamp)

	journal, err := Journal(ctx, dst)
	require.NoError(t, err)
	assert.Len(t, journal, 2)
}

func TestPlanUnknownDomain(t *testing.T) {
	_, err := Plan("bookmarks", 0)
	assert.ErrorIs(t, err, schema.ErrUnknownDomain)

	steps, err := Plan(schema.ManPages, 2)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "rekey-man_pages", steps[0].Name)
}
