package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	"github.com/freedevtools/fdtdb/pkg/verify"
)

// State is how far a run got.
type State string

const (
	StateSourceLocked State = "source_locked"
	StateCopied       State = "copied"
	StateTransformed  State = "transformed"
	StateVerified     State = "verified"
	StatePublished    State = "published"
)

// Options tune one run.
type Options struct {
	// From is the source generation; 0 picks the latest.
	From int
	// Target caps the step versions applied; 0 applies the whole plan.
	Target int
	// Extra steps run after the plan, e.g. a timestamp bump.
	Extra []Step
	// DryRun computes the pending steps without copying anything.
	DryRun  bool
	Publish bool
	RunID   string
}

// StepResult is what one applied step did.
type StepResult struct {
	Name       string           `json:"name" yaml:"name"`
	Version    int              `json:"version" yaml:"version"`
	Kind       Kind             `json:"kind" yaml:"kind"`
	Changes    []string         `json:"changes,omitempty" yaml:"changes,omitempty"`
	RowsBefore map[string]int64 `json:"rows_before" yaml:"rows_before"`
	RowsAfter  map[string]int64 `json:"rows_after" yaml:"rows_after"`
	Duration   time.Duration    `json:"duration" yaml:"duration"`
}

// Result describes a run. It is returned alongside an error so a failed run
// can still be reported.
type Result struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Domain      string        `json:"domain" yaml:"domain"`
	Source      string        `json:"source" yaml:"source"`
	Dest        string        `json:"dest,omitempty" yaml:"dest,omitempty"`
	FromVersion int           `json:"from_schema_version" yaml:"from_schema_version"`
	ToVersion   int           `json:"to_schema_version" yaml:"to_schema_version"`
	Pending     []string      `json:"pending" yaml:"pending"`
	Steps       []StepResult  `json:"steps,omitempty" yaml:"steps,omitempty"`
	State       State         `json:"state" yaml:"state"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Engine runs migrations against a generation store.
type Engine struct {
	store *storage.Store
}

func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Run copies generation N of d to N+1 and applies every pending step to the
// copy, each in its own transaction. The source file is only read. The copy
// stays marked incomplete until it verifies; on a failure after the copy it
// is moved aside as <name>.failed, Result.Dest points at it, and generation
// N remains the latest.
func (e *Engine) Run(ctx context.Context, d schema.Domain, opts Options) (_ *Result, err error) {
	start := time.Now()
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	res := &Result{RunID: opts.RunID, Domain: d.Name}
	defer func() { res.Duration = time.Since(start) }()

	from := opts.From
	if from == 0 {
		g, err := e.store.Latest(d.Name)
		if err != nil {
			return res, err
		}
		from = g.Version
	}
	srcName := storage.FileName(d.Name, from)
	dstName := storage.FileName(d.Name, from+1)
	res.Source = e.store.Path(srcName)

	plan, err := Plan(d.Name, opts.Target)
	if err != nil {
		return res, err
	}
	plan = append(plan, opts.Extra...)
	if err := validatePlan(plan); err != nil {
		return res, err
	}

	srcLock, err := e.store.Lock(srcName, opts.RunID)
	if err != nil {
		return res, err
	}
	defer func() { _ = srcLock.Release() }()
	if e.store.IsIncomplete(srcName) {
		return res, fmt.Errorf("%w: %s", storage.ErrIncomplete, srcName)
	}
	res.State = StateSourceLocked

	pending, current, err := e.pending(ctx, srcName, plan)
	if err != nil {
		return res, err
	}
	res.FromVersion, res.ToVersion = current, current
	for _, s := range pending {
		res.Pending = append(res.Pending, s.String())
	}
	if len(pending) == 0 {
		slog.Info("nothing to migrate", "domain", d.Name, "source", srcName, "user_version", current)
		return res, nil
	}
	if opts.DryRun {
		return res, nil
	}

	dstLock, err := e.store.Lock(dstName, opts.RunID)
	if err != nil {
		return res, err
	}
	defer func() { _ = dstLock.Release() }()

	if err := e.store.DiscardStale(dstName); err != nil {
		return res, err
	}
	if e.store.HasFile(dstName) {
		return res, fmt.Errorf("%w: %s", storage.ErrExists, dstName)
	}
	if err := e.store.MarkIncomplete(dstName, opts.RunID); err != nil {
		return res, err
	}
	completed := false
	defer func() {
		if err == nil || completed {
			return
		}
		if failed, derr := e.store.Discard(dstName); derr != nil {
			slog.Error("failed to discard copy", "dest", dstName, "error", derr)
		} else if res.Dest != "" {
			res.Dest = e.store.Path(failed)
		}
	}()

	if err := e.store.Copy(srcName, dstName); err != nil {
		return res, err
	}
	res.Dest = e.store.Path(dstName)
	res.State = StateCopied

	db, err := dbpkg.OpenExisting(res.Dest)
	if err != nil {
		return res, err
	}
	defer func() { _ = db.Close() }()

	if err := ensureJournal(ctx, db); err != nil {
		return res, err
	}

	for _, s := range pending {
		sr, err := applyStep(ctx, db, d, s, opts.RunID)
		if err != nil {
			slog.Error("migration step failed", "domain", d.Name, "step", s.Name, "dest", dstName, "error", err)
			return res, fmt.Errorf("step %s: %w", s, err)
		}
		res.Steps = append(res.Steps, *sr)
		if s.Version > res.ToVersion {
			res.ToVersion = s.Version
		}
	}
	if err := dbpkg.SetUserVersion(ctx, db, res.ToVersion); err != nil {
		return res, err
	}
	res.State = StateTransformed

	if err := checkResult(ctx, db, d, pending, res.ToVersion); err != nil {
		return res, err
	}
	if err := db.Finalize(ctx); err != nil {
		return res, err
	}
	if err := db.Close(); err != nil {
		return res, fmt.Errorf("failed to close %s: %w", dstName, err)
	}
	if err := e.store.Complete(dstName); err != nil {
		return res, err
	}
	completed = true
	res.State = StateVerified

	if opts.Publish {
		if res.ToVersion < d.Version {
			return res, fmt.Errorf("%w: %s is at schema version %d, %s needs %d to publish",
				verify.ErrVerificationFailed, dstName, res.ToVersion, d.Name, d.Version)
		}
		if _, err := e.store.Publish(d.Name, from+1, opts.RunID); err != nil {
			return res, err
		}
		res.State = StatePublished
	}

	slog.Info("migration complete",
		"domain", d.Name,
		"source", srcName,
		"dest", dstName,
		"steps", len(res.Steps),
		"user_version", res.ToVersion,
		"state", res.State)
	return res, nil
}

func (e *Engine) pending(ctx context.Context, srcName string, plan []Step) ([]Step, int, error) {
	src, err := dbpkg.OpenReadOnly(e.store.Path(srcName))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = src.Close() }()
	return Pending(ctx, src, plan)
}

// applyStep runs s and journals it in one transaction. Schema steps must
// leave the row count of every pre-existing table unchanged.
func applyStep(ctx context.Context, db *dbpkg.DB, d schema.Domain, s Step, runID string) (*StepResult, error) {
	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := dbpkg.RowCounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := s.Apply(ctx, tx, d); err != nil {
		return nil, err
	}
	after, err := dbpkg.RowCounts(ctx, tx)
	if err != nil {
		return nil, err
	}

	if s.Kind == KindSchema {
		for table, n := range before {
			if table == JournalTable {
				continue
			}
			if after[table] != n {
				return nil, fmt.Errorf("%w: %s had %d rows, has %d", verify.ErrVerificationFailed, table, n, after[table])
			}
		}
	}

	if err := record(ctx, tx, s, runID, time.Now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	slog.Info("step applied", "domain", d.Name, "step", s.Name, "version", s.Version, "kind", s.Kind)
	return &StepResult{
		Name:       s.Name,
		Version:    s.Version,
		Kind:       s.Kind,
		Changes:    s.Changes,
		RowsBefore: before,
		RowsAfter:  after,
		Duration:   time.Since(start),
	}, nil
}

// checkResult verifies the transformed copy: integrity, keys of rekeyed
// tables, and the declared layout once the file reaches the domain version.
func checkResult(ctx context.Context, db *dbpkg.DB, d schema.Domain, applied []Step, version int) error {
	problems, err := db.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: integrity check: %v", verify.ErrVerificationFailed, problems)
	}

	for _, s := range applied {
		if s.Kind != KindRekey {
			continue
		}
		for _, name := range s.Tables {
			t, ok := d.Table(name)
			if !ok {
				continue
			}
			exists, err := dbpkg.TableExists(ctx, db, name)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			rep, err := verify.Verify(ctx, db, t)
			if err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("%w: %d keys of %s do not match after %s",
					verify.ErrVerificationFailed, len(rep.Mismatches), name, s.Name)
			}
		}
	}

	if version >= d.Version {
		if err := schema.Validate(ctx, db, d); err != nil {
			return err
		}
	}
	return nil
}
