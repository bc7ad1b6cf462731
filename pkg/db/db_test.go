package db

import (
	"context"
	"path/filepath"
	"testing"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	_, err = database.Exec(`
		CREATE TABLE items (
			hash_id INTEGER PRIMARY KEY,
			category TEXT NOT NULL,
			slug TEXT NOT NULL DEFAULT ''
		) WITHOUT ROWID;
		CREATE UNIQUE INDEX ux_items_natural_key ON items (category, slug);
		INSERT INTO items VALUES (1, 'a', 'x'), (2, 'a', 'y'), (3, 'b', 'x');
	`)
	if err != nil {
		t.Fatalf("failed to seed test database: %v", err)
	}

	return database
}

func TestTableExists(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		table string
		want  bool
	}{
		{name: "existing table", table: "items", want: true},
		{name: "missing table", table: "nope", want: false},
		{name: "index is not a table", table: "ux_items_natural_key", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TableExists(ctx, db, tt.table)
			if err != nil {
				t.Fatalf("TableExists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TableExists(%q) = %v, want %v", tt.table, got, tt.want)
			}
		})
	}
}

func TestColumns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cols, err := Columns(ctx, db, "items")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("Columns() returned %d columns, want 3", len(cols))
	}
	if cols[0].Name != "hash_id" || cols[0].PKOrdinal != 1 {
		t.Errorf("first column = %+v, want hash_id primary key", cols[0])
	}
	if !cols[1].NotNull {
		t.Errorf("category should be NOT NULL")
	}
	if !cols[2].Default.Valid || cols[2].Default.String != "''" {
		t.Errorf("slug default = %+v, want ''", cols[2].Default)
	}

	ok, err := ColumnExists(ctx, db, "items", "slug")
	if err != nil || !ok {
		t.Errorf("ColumnExists(slug) = %v, %v", ok, err)
	}
	ok, err = ColumnExists(ctx, db, "items", "content")
	if err != nil || ok {
		t.Errorf("ColumnExists(content) = %v, %v", ok, err)
	}
}

func TestCountRowsAndInspect(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n, err := CountRows(ctx, db, "items")
	if err != nil {
		t.Fatalf("CountRows() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountRows() = %d, want 3", n)
	}

	entries, err := db.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Inspect() returned %d entries, want 2", len(entries))
	}
	if entries[0].Type != "table" || entries[0].RowCount != 3 {
		t.Errorf("first entry = %+v, want items table with 3 rows", entries[0])
	}
	if entries[1].Name != "ux_items_natural_key" {
		t.Errorf("second entry = %q, want the unique index", entries[1].Name)
	}
}

func TestOpenReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ro.db")

	rw, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := rw.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("create error = %v", err)
	}
	_ = rw.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Errorf("ReadOnly() = false")
	}
	if _, err := ro.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err == nil {
		t.Errorf("insert through read-only handle succeeded")
	}

	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Errorf("OpenReadOnly() on missing file succeeded")
	}
}

func TestBulkLoadModeAndFinalize(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bulk.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.BulkLoadMode(ctx); err != nil {
		t.Fatalf("BulkLoadMode() error = %v", err)
	}
	if err := db.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode error = %v", err)
	}
	if mode != "delete" {
		t.Errorf("journal_mode = %q, want delete", mode)
	}

	problems, err := db.IntegrityCheck(ctx)
	if err != nil || len(problems) != 0 {
		t.Errorf("IntegrityCheck() = %v, %v", problems, err)
	}

	if err := SetUserVersion(ctx, db, 4); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	v, err := db.UserVersion(ctx)
	if err != nil || v != 4 {
		t.Errorf("UserVersion() = %d, %v, want 4", v, err)
	}
}
