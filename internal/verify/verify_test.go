package verify

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedevtools/fdtdb/internal/build"
	"github.com/freedevtools/fdtdb/internal/common"
	"github.com/freedevtools/fdtdb/models"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/report"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	verifypkg "github.com/freedevtools/fdtdb/pkg/verify"
)

// builtGeneration builds generation 1 of man-pages from three pages.
func builtGeneration(t *testing.T) (*common.Env, schema.Domain) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewStore(filepath.Join(root, "db"))
	require.NoError(t, err)
	env := &common.Env{
		Config: &models.Config{DBDir: store.Dir(), DataDir: filepath.Join(root, "data"), Workers: 1},
		Store:  store,
		Logger: slog.Default(),
	}

	for _, name := range []string{"grep", "sed", "awk"} {
		p := filepath.Join(env.Config.SourceDir(schema.ManPages), "utilities", "text", name+".1.md")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		body := "---\ntitle: " + name + "\ndescription: " + name + " manual\n---\n# " + name + "\n"
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	d, err := schema.Lookup(schema.ManPages)
	require.NoError(t, err)
	_, err = build.Build(context.Background(), env, d, build.Options{}, report.NewRun("build", d.Name, time.Now()))
	require.NoError(t, err)
	return env, d
}

// corrupt applies statements to generation 1 and leaves it finalized.
func corrupt(t *testing.T, env *common.Env, d schema.Domain, stmts ...string) {
	t.Helper()
	ctx := context.Background()
	db, err := dbpkg.OpenExisting(env.Store.GenerationPath(d.Name, 1))
	require.NoError(t, err)
	for _, s := range stmts {
		_, err := db.ExecContext(ctx, s)
		require.NoError(t, err, s)
	}
	require.NoError(t, db.Finalize(ctx))
	require.NoError(t, db.Close())
}

func TestInspectCleanGeneration(t *testing.T) {
	env, d := builtGeneration(t)

	f, err := verifyGeneration(context.Background(), env, d, 1)
	require.NoError(t, err)
	assert.True(t, f.OK())
	assert.Empty(t, f.Layout)
	assert.Equal(t, storage.FileName(d.Name, 1), f.File)

	tables := map[string]int{}
	for _, r := range f.Tables {
		tables[r.Table] = r.Total
	}
	assert.Equal(t, 3, tables["man_pages"])
	assert.Equal(t, 1, tables["sub_category"])
}

func TestRepairThenRebuildAggregates(t *testing.T) {
	ctx := context.Background()
	env, d := builtGeneration(t)

	legacy := hashkey.WithSlash.Apply("utilities", "text", "grep")
	corrupt(t, env, d,
		"UPDATE man_pages SET hash_id = "+hashkey.Format(legacy)+" WHERE slug = 'grep'",
		"UPDATE sub_category SET count = 99",
	)

	f, err := verifyGeneration(ctx, env, d, 1)
	require.NoError(t, err)
	assert.False(t, f.OK())
	assert.Equal(t, 1, f.Mismatches())
	require.NotEmpty(t, f.Drift)
	assert.Equal(t, "sub_category", f.Drift[0].Table)

	var schemes []string
	for _, r := range f.Tables {
		for _, m := range r.Mismatches {
			assert.Equal(t, legacy, m.Stored)
			assert.Equal(t, hashkey.Key("utilities", "text", "grep"), m.Expected)
			schemes = append(schemes, m.Scheme)
		}
	}
	assert.Equal(t, []string{hashkey.WithSlash.Name}, schemes)

	after, err := Repair(ctx, env, d, 1, "run-1", f)
	require.NoError(t, err)
	assert.Zero(t, after.Mismatches())
	assert.NotEmpty(t, after.Drift)

	res, err := RebuildAggregates(ctx, env, d, 1, "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)

	f, err = verifyGeneration(ctx, env, d, 1)
	require.NoError(t, err)
	assert.True(t, f.OK())
}

func TestRepairRefusesPublishedGeneration(t *testing.T) {
	ctx := context.Background()
	env, d := builtGeneration(t)
	_, err := env.Store.Publish(d.Name, 1, "run-0")
	require.NoError(t, err)

	f, err := verifyGeneration(ctx, env, d, 1)
	require.NoError(t, err)

	_, err = Repair(ctx, env, d, 1, "run-1", f)
	require.ErrorIs(t, err, storage.ErrPublished)
	_, err = RebuildAggregates(ctx, env, d, 1, "run-2")
	require.ErrorIs(t, err, storage.ErrPublished)
}

func TestCheckPublishable(t *testing.T) {
	ctx := context.Background()
	env, d := builtGeneration(t)
	name := storage.FileName(d.Name, 1)

	require.NoError(t, CheckPublishable(ctx, env, d, 1))

	require.NoError(t, env.Store.MarkIncomplete(name, "run-1"))
	assert.ErrorIs(t, CheckPublishable(ctx, env, d, 1), storage.ErrIncomplete)
	require.NoError(t, env.Store.Complete(name))

	corrupt(t, env, d, "PRAGMA user_version = 1")
	err := CheckPublishable(ctx, env, d, 1)
	assert.ErrorIs(t, err, verifypkg.ErrVerificationFailed)
	assert.Contains(t, err.Error(), "run migrate first")

	corrupt(t, env, d,
		"PRAGMA user_version = "+strconv.Itoa(d.Version),
		"UPDATE sub_category SET count = 99")
	assert.ErrorIs(t, CheckPublishable(ctx, env, d, 1), verifypkg.ErrVerificationFailed)
}
