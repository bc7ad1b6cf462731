package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/report"
	schemapkg "github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
)

// target opens the file a schema command works on: --file when given,
// otherwise an unpublished generation of the domain, locked for the call.
func target(c *cli.Context, env *common.Env, d schemapkg.Domain, runID string) (*dbpkg.DB, func(), error) {
	if path := c.String("file"); path != "" {
		db, err := dbpkg.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}

	n, err := common.GenerationArg(c, env, d.Name)
	if err != nil {
		return nil, nil, err
	}
	if err := env.Store.CheckWritable(d.Name, n); err != nil {
		return nil, nil, err
	}
	name := storage.FileName(d.Name, n)
	lock, err := env.Store.Lock(name, runID)
	if err != nil {
		return nil, nil, err
	}
	db, err := dbpkg.OpenExisting(env.Store.Path(name))
	if err != nil {
		_ = lock.Release()
		return nil, nil, err
	}
	return db, func() {
		_ = db.Close()
		_ = lock.Release()
	}, nil
}

func EnsureAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}

	runID := report.NewRunID("schema-ensure", d.Name, time.Now())
	db, done, err := target(c, env, d, runID)
	if err != nil {
		return common.Exit(err)
	}
	defer done()

	if err := Ensure(c.Context, db, d); err != nil {
		return common.Exit(err)
	}
	fmt.Printf("Schema of %s ensured in %s\n", d.Name, db.Path())
	return nil
}

// Ensure creates missing tables of d and leaves the file finalized.
func Ensure(ctx context.Context, db *dbpkg.DB, d schemapkg.Domain) error {
	if err := schemapkg.EnsureSchema(ctx, db, d); err != nil {
		return err
	}
	return db.Finalize(ctx)
}

func DropAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}

	runID := report.NewRunID("schema-drop", d.Name, time.Now())
	db, done, err := target(c, env, d, runID)
	if err != nil {
		return common.Exit(err)
	}
	defer done()

	prompt := fmt.Sprintf("Drop every %s table from %s?", d.Name, db.Path())
	if err := common.RequireConfirmation(c, prompt); err != nil {
		return common.Exit(err)
	}
	if err := schemapkg.DropSchema(c.Context, db, d); err != nil {
		return common.Exit(err)
	}
	fmt.Printf("Dropped %d tables of %s\n", len(d.Tables()), d.Name)
	return nil
}

// ShowAction prints the DDL of a domain without touching any file.
func ShowAction(c *cli.Context) error {
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}
	fmt.Printf("-- %s, schema version %d\n", d.Name, d.Version)
	for _, t := range d.Tables() {
		fmt.Printf("%s;\n", t.CreateSQL())
		for _, ix := range t.IndexSQL() {
			fmt.Printf("%s;\n", ix)
		}
		fmt.Println()
	}
	return nil
}
