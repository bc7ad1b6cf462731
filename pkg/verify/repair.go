package verify

import (
	"context"
	"fmt"
	"log/slog"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// Repair rewrites every mismatched key of rep to its canonical value in one
// transaction, then verifies the table again. It returns the new report and
// ErrVerificationFailed when mismatches remain.
func Repair(ctx context.Context, db *dbpkg.DB, t schema.Table, rep *Report) (*Report, error) {
	if rep.OK() {
		return rep, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin repair transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	mapping := make(map[int64]int64, len(rep.Mismatches))
	for _, m := range rep.Mismatches {
		mapping[m.Stored] = m.Expected
	}
	if err := Remap(ctx, tx, t, mapping); err != nil {
		return nil, err
	}

	after, err := Verify(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if !after.OK() {
		return after, fmt.Errorf("%w: %d rows of %s still mismatched after repair", ErrVerificationFailed, len(after.Mismatches), t.Name)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit repair: %w", err)
	}
	slog.Info("keys repaired", "table", t.Name, "rows", len(mapping))
	return after, nil
}

// Remap moves rows of t from their old hash_id to a new one. Rows are moved
// through a temporary table so swapped keys never collide midway. Two rows
// mapped to the same new key fail the statement.
func Remap(ctx context.Context, q dbpkg.Querier, t schema.Table, mapping map[int64]int64) error {
	if len(mapping) == 0 {
		return nil
	}

	guard := hashkey.NewCollisionGuard()
	for _, to := range mapping {
		if guard.Observe(to) {
			return fmt.Errorf("remap of %s sends two rows to hash_id %d", t.Name, to)
		}
	}

	table := dbpkg.QuoteIdent(t.Name)
	stmts := []string{
		"DROP TABLE IF EXISTS temp.fdt_remap",
		"DROP TABLE IF EXISTS temp.fdt_remap_rows",
		"CREATE TEMP TABLE fdt_remap (old_id INTEGER PRIMARY KEY, new_id INTEGER NOT NULL)",
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to prepare remap: %w", err)
		}
	}

	for from, to := range mapping {
		if _, err := q.ExecContext(ctx, "INSERT INTO temp.fdt_remap (old_id, new_id) VALUES (?, ?)", from, to); err != nil {
			return fmt.Errorf("failed to stage remap of %d: %w", from, err)
		}
	}

	stmts = []string{
		fmt.Sprintf("CREATE TEMP TABLE fdt_remap_rows AS SELECT * FROM %s WHERE %s IN (SELECT old_id FROM temp.fdt_remap)", table, schema.HashColumn),
		fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT old_id FROM temp.fdt_remap)", table, schema.HashColumn),
		fmt.Sprintf("UPDATE temp.fdt_remap_rows SET %s = (SELECT new_id FROM temp.fdt_remap WHERE old_id = fdt_remap_rows.%s)", schema.HashColumn, schema.HashColumn),
		fmt.Sprintf("INSERT INTO %s SELECT * FROM temp.fdt_remap_rows", table),
		"DROP TABLE temp.fdt_remap_rows",
		"DROP TABLE temp.fdt_remap",
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to remap %s: %w", t.Name, err)
		}
	}
	return nil
}
