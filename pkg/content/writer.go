package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/freedevtools/fdtdb/models"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/hashkey"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// ErrCollision is returned when two different natural keys hash to the same
// key. The whole batch is rolled back.
var ErrCollision = errors.New("hash collision")

// Writer inserts records into one content table.
type Writer struct {
	db    *dbpkg.DB
	table schema.Table
	guard *hashkey.CollisionGuard
	now   func() time.Time
}

func NewWriter(db *dbpkg.DB, table schema.Table) *Writer {
	return &Writer{
		db:    db,
		table: table,
		guard: hashkey.NewCollisionGuard(),
		now:   time.Now,
	}
}

// Write inserts records in one transaction and returns one outcome per
// record. A record whose natural key is already stored is skipped; a
// record whose key is taken by a different natural key aborts the batch
// with ErrCollision and nothing is written.
func (w *Writer) Write(ctx context.Context, records []*models.Record) ([]models.Outcome, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, w.insertSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	stamp := w.now().UTC().Format(time.RFC3339)
	outcomes := make([]models.Outcome, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, err := w.writeOne(ctx, tx, stmt, r, stamp)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return outcomes, nil
}

func (w *Writer) writeOne(ctx context.Context, tx *sql.Tx, stmt *sql.Stmt, r *models.Record, stamp string) (models.Outcome, error) {
	if len(r.NaturalKey) != len(w.table.KeyColumns) {
		err := fmt.Errorf("natural key %q has %d parts, table %s expects %d (%s)",
			r.KeyString(), len(r.NaturalKey), w.table.Name, len(w.table.KeyColumns), strings.Join(w.table.KeyColumns, ", "))
		return models.Failed(r.KeyString(), r.Source, err), nil
	}

	id := r.HashID()
	args, err := w.values(r, id, stamp)
	if err != nil {
		return models.Failed(r.KeyString(), r.Source, err), nil
	}
	// Only ids of encodable records reach the guard.
	if !w.guard.Observe(id) {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return models.Outcome{}, fmt.Errorf("failed to insert %s: %w", r.KeyString(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.Outcome{}, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 1 {
			return models.Inserted(r), nil
		}
	}
	return w.resolveConflict(ctx, tx, r, id)
}

// resolveConflict decides what an ignored insert means.
func (w *Writer) resolveConflict(ctx context.Context, tx *sql.Tx, r *models.Record, id int64) (models.Outcome, error) {
	stored, found, err := w.keyByHash(ctx, tx, id)
	if err != nil {
		return models.Outcome{}, err
	}
	if found {
		if equalKeys(stored, r.NaturalKey) {
			return models.Skipped(r, "duplicate natural key"), nil
		}
		slog.Error("hash collision",
			"table", w.table.Name,
			"hash_id", id,
			"stored_key", strings.Join(stored, "/"),
			"new_key", r.KeyString())
		return models.Outcome{}, fmt.Errorf("%w in %s: %q and %q both hash to %d",
			ErrCollision, w.table.Name, strings.Join(stored, "/"), r.KeyString(), id)
	}

	// The natural key is stored under a different hash_id: an older scheme.
	otherID, err := w.hashByKey(ctx, tx, r.NaturalKey)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("hash_id %d was seen earlier in this run but nothing is stored under it", id)
		return models.Failed(r.KeyString(), r.Source, err), nil
	}
	if err != nil {
		return models.Outcome{}, err
	}
	err = fmt.Errorf("natural key already stored under hash_id %d, expected %d (run verify)", otherID, id)
	return models.Failed(r.KeyString(), r.Source, err), nil
}

func (w *Writer) insertSQL() string {
	cols := make([]string, len(w.table.Columns))
	marks := make([]string, len(w.table.Columns))
	for i, c := range w.table.Columns {
		cols[i] = dbpkg.QuoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		dbpkg.QuoteIdent(w.table.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// values maps a record onto the table's columns in declaration order.
func (w *Writer) values(r *models.Record, id int64, stamp string) ([]any, error) {
	keyIndex := make(map[string]int, len(w.table.KeyColumns))
	for i, k := range w.table.KeyColumns {
		keyIndex[k] = i
	}

	args := make([]any, len(w.table.Columns))
	for i, c := range w.table.Columns {
		if k, ok := keyIndex[c.Name]; ok {
			args[i] = r.NaturalKey[k]
			continue
		}
		switch c.Name {
		case schema.HashColumn:
			args[i] = id
		case schema.ColTitle:
			args[i] = r.Title
		case schema.ColDescription:
			args[i] = r.Description
		case schema.ColKeywords:
			kw := r.Keywords
			if kw == nil {
				kw = []string{}
			}
			b, err := json.Marshal(kw)
			if err != nil {
				return nil, fmt.Errorf("failed to encode keywords: %w", err)
			}
			args[i] = string(b)
		case schema.ColContent:
			args[i] = r.Payload
		case schema.ColExtra:
			extra := r.Extra
			if extra == nil {
				extra = map[string]any{}
			}
			b, err := json.Marshal(extra)
			if err != nil {
				return nil, fmt.Errorf("failed to encode extra: %w", err)
			}
			args[i] = string(b)
		case schema.ColUpdatedAt:
			args[i] = stamp
		default:
			v, ok := r.Fields[c.Name]
			if !ok || v == nil {
				v = zeroFor(c.Decl)
			}
			args[i] = v
		}
	}
	return args, nil
}

func zeroFor(decl string) any {
	if strings.HasPrefix(strings.ToUpper(decl), "INTEGER") {
		return 0
	}
	return ""
}

func (w *Writer) keyByHash(ctx context.Context, q dbpkg.Querier, id int64) ([]string, bool, error) {
	cols := make([]string, len(w.table.KeyColumns))
	for i, k := range w.table.KeyColumns {
		cols[i] = dbpkg.QuoteIdent(k)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), dbpkg.QuoteIdent(w.table.Name), schema.HashColumn)

	key := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i := range key {
		dest[i] = &key[i]
	}
	err := q.QueryRowContext(ctx, query, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up hash_id %d: %w", id, err)
	}
	return key, true, nil
}

func (w *Writer) hashByKey(ctx context.Context, q dbpkg.Querier, key []string) (int64, error) {
	conds := make([]string, len(w.table.KeyColumns))
	args := make([]any, len(key))
	for i, k := range w.table.KeyColumns {
		conds[i] = dbpkg.QuoteIdent(k) + " = ?"
		args[i] = key[i]
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		schema.HashColumn, dbpkg.QuoteIdent(w.table.Name), strings.Join(conds, " AND "))

	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up natural key %q: %w", strings.Join(key, "/"), err)
	}
	return id, nil
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Lookup reads one record's stored title and payload back by hash id.
func Lookup(ctx context.Context, q dbpkg.Querier, table schema.Table, id int64) (*models.Record, error) {
	w := &Writer{table: table}
	key, found, err := w.keyByHash(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}

	rec := &models.Record{NaturalKey: key}
	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = ?",
		schema.ColTitle, schema.ColDescription, schema.ColKeywords, schema.ColContent,
		dbpkg.QuoteIdent(table.Name), schema.HashColumn)
	var keywords string
	if err := q.QueryRowContext(ctx, query, id).Scan(&rec.Title, &rec.Description, &keywords, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to read %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords of %d: %w", id, err)
	}
	return rec, nil
}
