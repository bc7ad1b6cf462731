package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	"github.com/freedevtools/fdtdb/pkg/aggregate"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/report"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	verifypkg "github.com/freedevtools/fdtdb/pkg/verify"
)

func RepairAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}
	n, err := common.GenerationArg(c, env, d.Name)
	if err != nil {
		return common.Exit(err)
	}

	run := report.NewRun("repair", d.Name, time.Now())
	f, err := verifyGeneration(c.Context, env, d, n)
	if err != nil {
		common.SaveReport(c, env, run, err)
		return common.Exit(err)
	}
	if f.Mismatches() == 0 {
		fmt.Printf("%s: all keys verified, nothing to repair\n", f.File)
		return nil
	}
	if !c.Bool("quiet") {
		PrintFindings(f, c.Int("show"))
	}

	prompt := fmt.Sprintf("Rewrite %d keys of %s in place?", f.Mismatches(), f.File)
	if err := common.RequireConfirmation(c, prompt); err != nil {
		return common.Exit(err)
	}

	repaired, err := Repair(c.Context, env, d, n, run.ID, f)
	run.Details = repaired
	common.SaveReport(c, env, run, err)
	return common.Exit(err)
}

// Repair rewrites the mismatched keys found by Inspect in generation n,
// one transaction per table, then checks every key again. Published
// generations are refused.
func Repair(ctx context.Context, env *common.Env, d schema.Domain, n int, runID string, f *Findings) (*Findings, error) {
	name := storage.FileName(d.Name, n)
	if err := env.Store.CheckWritable(d.Name, n); err != nil {
		return nil, err
	}
	lock, err := env.Store.Lock(name, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	db, err := dbpkg.OpenExisting(env.Store.Path(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	for _, rep := range f.Tables {
		if rep.OK() {
			continue
		}
		t, ok := d.Table(rep.Table)
		if !ok {
			return nil, fmt.Errorf("table %s is not declared for %s", rep.Table, d.Name)
		}
		if _, err := verifypkg.Repair(ctx, db, t, rep); err != nil {
			return nil, err
		}
		env.Logger.Info("table repaired", "file", name, "table", t.Name, "keys", len(rep.Mismatches))
	}

	after, err := Inspect(ctx, db, d)
	if err != nil {
		return nil, err
	}
	after.File = name
	if after.Mismatches() > 0 {
		return after, fmt.Errorf("%w: %d keys still mismatched", verifypkg.ErrVerificationFailed, after.Mismatches())
	}
	if err := db.Finalize(ctx); err != nil {
		return after, err
	}
	return after, nil
}

func AggregateAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}
	n, err := common.GenerationArg(c, env, d.Name)
	if err != nil {
		return common.Exit(err)
	}

	if !c.Bool("rebuild") {
		f, err := verifyGeneration(c.Context, env, d, n)
		if err != nil {
			return common.Exit(err)
		}
		if f.Layout != "" {
			return common.Exit(fmt.Errorf("%w: %s", schema.ErrIncompatibleSchema, f.Layout))
		}
		if len(f.Drift) == 0 {
			fmt.Printf("%s: aggregates match the content table\n", f.File)
			return nil
		}
		for _, dr := range f.Drift {
			fmt.Println(dr)
		}
		return common.Exit(fmt.Errorf("%w: %d aggregate rows drifted", verifypkg.ErrVerificationFailed, len(f.Drift)))
	}

	run := report.NewRun("aggregate", d.Name, time.Now())
	res, err := RebuildAggregates(c.Context, env, d, n, run.ID)
	run.Details = res
	common.SaveReport(c, env, run, err)
	return common.Exit(err)
}

// RebuildAggregates regenerates the aggregate tables of an unpublished
// generation in place.
func RebuildAggregates(ctx context.Context, env *common.Env, d schema.Domain, n int, runID string) (*aggregate.Result, error) {
	name := storage.FileName(d.Name, n)
	if err := env.Store.CheckWritable(d.Name, n); err != nil {
		return nil, err
	}
	lock, err := env.Store.Lock(name, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	db, err := dbpkg.OpenExisting(env.Store.Path(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	res, err := aggregate.Rebuild(ctx, db, d)
	if err != nil {
		return nil, err
	}
	if err := db.Finalize(ctx); err != nil {
		return nil, err
	}
	return res, nil
}
