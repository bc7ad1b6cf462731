package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	schemapkg "github.com/freedevtools/fdtdb/pkg/schema"
)

func TestEnsureLeavesFinalizedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "emojis-db-v1.db")
	d, err := schemapkg.Lookup(schemapkg.Emojis)
	require.NoError(t, err)

	db, err := dbpkg.Open(path)
	require.NoError(t, err)
	require.NoError(t, Ensure(ctx, db, d))

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "delete", mode)
	require.NoError(t, db.Close())
	assert.NoFileExists(t, path+"-wal")

	ro, err := dbpkg.OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()
	require.NoError(t, schemapkg.Validate(ctx, ro, d))
	for _, tbl := range d.Tables() {
		ok, err := dbpkg.TableExists(ctx, ro, tbl.Name)
		require.NoError(t, err)
		assert.True(t, ok, tbl.Name)
	}
}
