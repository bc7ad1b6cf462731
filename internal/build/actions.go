package build

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	"github.com/freedevtools/fdtdb/pkg/aggregate"
	"github.com/freedevtools/fdtdb/pkg/content"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/detector"
	"github.com/freedevtools/fdtdb/pkg/report"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
)

// Options tune one build.
type Options struct {
	Limit       int
	DryRun      bool
	EnglishOnly bool
	Publish     bool
}

// Output is what a build produced.
type Output struct {
	Generation int                `yaml:"generation"`
	File       string             `yaml:"file,omitempty"`
	Aggregates map[string]int64   `yaml:"aggregates,omitempty"`
	Described  int                `yaml:"described,omitempty"`
	Published  *storage.Published `yaml:"published,omitempty"`
}

func BuildAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}

	run := report.NewRun("build", d.Name, time.Now())
	out, err := Build(c.Context, env, d, Options{
		Limit:       c.Int("limit"),
		DryRun:      c.Bool("dry-run"),
		EnglishOnly: c.Bool("english-only") || env.Config.EnglishOnly,
		Publish:     c.Bool("publish"),
	}, run)
	run.Details = out
	common.SaveReport(c, env, run, err)
	if err != nil {
		return common.Exit(err)
	}
	if out.File != "" && !c.Bool("quiet") {
		fmt.Printf("\nGeneration: %s\n", out.File)
	}
	return nil
}

// Build loads a domain's source tree into a fresh generation file, rebuilds
// its aggregates and finalizes it. The file stays marked incomplete while it
// is written; a failed build removes it so it never becomes the latest
// generation.
func Build(ctx context.Context, env *common.Env, d schema.Domain, opts Options, run *report.Run) (*Output, error) {
	src, err := content.OpenSource(env.Config.SourceDir(d.Name), env.Config.Exclude)
	if err != nil {
		return nil, err
	}

	n, err := env.Store.Next(d.Name)
	if err != nil {
		return nil, err
	}
	out := &Output{Generation: n}
	name := storage.FileName(d.Name, n)

	loadOpts := content.Options{
		Exclude: env.Config.Exclude,
		Limit:   opts.Limit,
		DryRun:  opts.DryRun,
		Workers: env.Config.Workers,
	}
	if opts.EnglishOnly {
		loadOpts.Language = detector.New()
	}

	if opts.DryRun {
		res, err := content.Load(ctx, nil, d, src, loadOpts)
		if err != nil {
			return out, err
		}
		run.Record(res.Outcomes)
		return out, nil
	}

	lock, err := env.Store.Lock(name, run.ID)
	if err != nil {
		return out, err
	}
	defer func() { _ = lock.Release() }()

	path := env.Store.Path(name)
	if err := env.Store.DiscardStale(name); err != nil {
		return out, err
	}
	if env.Store.HasFile(name) {
		return out, fmt.Errorf("%w: %s", storage.ErrExists, name)
	}
	if err := env.Store.MarkIncomplete(name, run.ID); err != nil {
		return out, err
	}

	err = populate(ctx, path, d, src, loadOpts, run, out)
	if err != nil {
		removeGeneration(path)
		_ = env.Store.Complete(name)
		return out, err
	}
	if err := env.Store.Complete(name); err != nil {
		return out, err
	}
	out.File = path
	env.Logger.Info("generation built", "domain", d.Name, "file", name,
		"inserted", run.Summary.Inserted, "failed", run.Summary.Failed)

	if opts.Publish {
		p, err := env.Store.Publish(d.Name, n, run.ID)
		if err != nil {
			return out, err
		}
		out.Published = p
	}
	return out, nil
}

func populate(ctx context.Context, path string, d schema.Domain, src *content.Source, opts content.Options, run *report.Run, out *Output) error {
	db, err := dbpkg.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := schema.EnsureSchema(ctx, db, d); err != nil {
		return err
	}

	res, err := content.Load(ctx, db, d, src, opts)
	if err != nil {
		return err
	}
	run.Record(res.Outcomes)

	agg, err := aggregate.Rebuild(ctx, db, d)
	if err != nil {
		return err
	}
	out.Aggregates = agg.Rows

	if len(res.Categories) > 0 {
		out.Described, err = aggregate.ApplyMeta(ctx, db, d, categoryMeta(res.Categories))
		if err != nil {
			return err
		}
	}

	if err := dbpkg.SetUserVersion(ctx, db, d.Version); err != nil {
		return err
	}
	problems, err := db.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check failed: %v", problems)
	}
	if err := db.Finalize(ctx); err != nil {
		return err
	}
	return db.Close()
}

func categoryMeta(in map[string]content.CategoryMeta) map[string]aggregate.Meta {
	out := make(map[string]aggregate.Meta, len(in))
	for k, v := range in {
		out[k] = aggregate.Meta{Description: v.Description, Keywords: v.Keywords}
	}
	return out
}

func removeGeneration(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		_ = os.Remove(p)
	}
}
