package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedevtools/fdtdb/models"
)

func newTestStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		n      int
		ok     bool
	}{
		{"man-pages-db-v3.db", "man-pages", 3, true},
		{"/srv/db/all_dbs/svg-icons-db-v12.db", "svg-icons", 12, true},
		{"emoji-db-v0.db", "", 0, false},
		{"emoji-db-v2.db-wal", "", 0, false},
		{"notes.txt", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, n, ok := ParseName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.domain, d)
			assert.Equal(t, tt.n, n)
		})
	}
	assert.Equal(t, "tldr-db-v4.db", FileName("tldr", 4))
}

func TestListLatestNext(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"man-pages-db-v2.db":  "b",
		"man-pages-db-v10.db": "c",
		"man-pages-db-v1.db":  "a",
		"emojis-db-v1.db":     "e",
		"README.md":           "x",
	})

	gens, err := s.List("man-pages")
	require.NoError(t, err)
	require.Len(t, gens, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{gens[0].Version, gens[1].Version, gens[2].Version})

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	latest, err := s.Latest("man-pages")
	require.NoError(t, err)
	assert.Equal(t, "man-pages-db-v10.db", latest.Name)

	next, err := s.Next("man-pages")
	require.NoError(t, err)
	assert.Equal(t, 11, next)

	next, err = s.Next("tldr")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = s.Latest("tldr")
	assert.ErrorIs(t, err, ErrNoGeneration)
}

func TestCopy(t *testing.T) {
	s := newTestStore(t, map[string]string{"mcp-db-v1.db": "sqlite bytes"})

	require.NoError(t, s.Copy("mcp-db-v1.db", "mcp-db-v2.db"))
	got, err := os.ReadFile(s.Path("mcp-db-v2.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(got))
	assert.False(t, s.HasFile("mcp-db-v2.db"+partialSuffix))

	err = s.Copy("mcp-db-v1.db", "mcp-db-v2.db")
	assert.ErrorIs(t, err, ErrExists)

	src, err := os.ReadFile(s.Path("mcp-db-v1.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(src))
}

func TestCopyRefusesPendingWAL(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"tldr-db-v1.db":     "main",
		"tldr-db-v1.db-wal": "frames",
	})
	err := s.Copy("tldr-db-v1.db", "tldr-db-v2.db")
	assert.ErrorIs(t, err, ErrWALPresent)
	assert.False(t, s.HasFile("tldr-db-v2.db"))

	require.NoError(t, os.WriteFile(s.Path("tldr-db-v1.db-wal"), nil, 0o644))
	assert.NoError(t, s.Copy("tldr-db-v1.db", "tldr-db-v2.db"))
}

func TestCopyMissingSource(t *testing.T) {
	s := newTestStore(t, nil)
	assert.Error(t, s.Copy("tldr-db-v1.db", "tldr-db-v2.db"))
	assert.False(t, s.HasFile("tldr-db-v2.db"))
}

func TestLock(t *testing.T) {
	s := newTestStore(t, nil)

	l, err := s.Lock("emojis-db-v2.db", "run-1")
	require.NoError(t, err)

	_, err = s.Lock("emojis-db-v2.db", "run-2")
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "run-1")

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	l2, err := s.Lock("emojis-db-v2.db", "run-2")
	require.NoError(t, err)
	assert.NoError(t, l2.Release())
}

func TestPublish(t *testing.T) {
	s := newTestStore(t, map[string]string{"svg-icons-db-v1.db": "icons"})

	require.NoError(t, s.CheckWritable("svg-icons", 1))

	p, err := s.Publish("svg-icons", 1, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.SizeBytes)
	assert.Len(t, p.SHA256, 64)

	info, err := os.Stat(s.Path("svg-icons-db-v1.db"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	published, err := s.IsPublished("svg-icons", 1)
	require.NoError(t, err)
	assert.True(t, published)
	assert.ErrorIs(t, s.CheckWritable("svg-icons", 1), ErrPublished)

	_, err = s.Publish("svg-icons", 1, "run-2")
	assert.ErrorIs(t, err, ErrPublished)

	assert.NoError(t, s.Verify("svg-icons", 1))

	gens, err := s.List("svg-icons")
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.True(t, gens[0].Published)

	require.NoError(t, s.MarkUploaded("svg-icons", 1, "s3://bucket/svg-icons-db-v1.db"))
	got, err := s.Published("svg-icons", 1)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/svg-icons-db-v1.db", got.UploadedTo)
	assert.Equal(t, "run-1", got.RunID)
}

func TestNewUploader(t *testing.T) {
	_, err := NewUploader(models.UploadConfig{})
	assert.ErrorIs(t, err, ErrUploadDisabled)

	u, err := NewUploader(models.UploadConfig{Endpoint: "localhost:9000", Bucket: "fdt", Prefix: "dbs/v1"})
	require.NoError(t, err)
	assert.Equal(t, "dbs/v1/man-pages-db-v3.db", u.ObjectName("man-pages-db-v3.db"))
}
