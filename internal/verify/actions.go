package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
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

// Findings is what verifying one generation found.
type Findings struct {
	File   string              `yaml:"file"`
	Tables []*verifypkg.Report `yaml:"tables"`
	Drift  []aggregate.Drift   `yaml:"drift,omitempty"`
	// Layout is set when the file does not match the declared layout; drift
	// is not checked then.
	Layout string `yaml:"layout,omitempty"`
}

// OK reports whether every key matched and no aggregate drifted.
func (f *Findings) OK() bool {
	for _, r := range f.Tables {
		if !r.OK() {
			return false
		}
	}
	return len(f.Drift) == 0
}

// Mismatches counts mismatched keys over all tables.
func (f *Findings) Mismatches() int {
	n := 0
	for _, r := range f.Tables {
		n += len(r.Mismatches)
	}
	return n
}

// Inspect verifies every hash-keyed table of d present in the file and, when
// the layout matches, checks aggregate counts. It only reads.
func Inspect(ctx context.Context, q dbpkg.Querier, d schema.Domain) (*Findings, error) {
	f := &Findings{}
	for _, t := range d.Tables() {
		if !t.Hashed {
			continue
		}
		exists, err := dbpkg.TableExists(ctx, q, t.Name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		rep, err := verifypkg.Verify(ctx, q, t)
		if err != nil {
			return nil, err
		}
		f.Tables = append(f.Tables, rep)
	}

	if err := schema.Validate(ctx, q, d); err != nil {
		if !errors.Is(err, schema.ErrIncompatibleSchema) {
			return nil, err
		}
		f.Layout = err.Error()
		return f, nil
	}
	for _, t := range d.Tables() {
		exists, err := dbpkg.TableExists(ctx, q, t.Name)
		if err != nil {
			return nil, err
		}
		if !exists {
			f.Layout = "missing table " + t.Name
			return f, nil
		}
	}
	drift, err := aggregate.Check(ctx, q, d)
	if err != nil {
		return nil, err
	}
	f.Drift = drift
	return f, nil
}

func VerifyAction(c *cli.Context) error {
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

	run := report.NewRun("verify", d.Name, time.Now())
	f, err := verifyGeneration(c.Context, env, d, n)
	run.Details = f
	if err == nil && !f.OK() {
		err = fmt.Errorf("%w: %d mismatched keys, %d drifted aggregate rows",
			verifypkg.ErrVerificationFailed, f.Mismatches(), len(f.Drift))
	}
	if f != nil && !c.Bool("quiet") {
		PrintFindings(f, c.Int("show"))
	}
	common.SaveReport(c, env, run, err)
	return common.Exit(err)
}

func verifyGeneration(ctx context.Context, env *common.Env, d schema.Domain, n int) (*Findings, error) {
	name := storage.FileName(d.Name, n)
	if err := env.Store.CheckClean(name); err != nil {
		return nil, err
	}
	db, err := dbpkg.OpenReadOnly(env.Store.Path(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	f, err := Inspect(ctx, db, d)
	if err != nil {
		return nil, err
	}
	f.File = name
	return f, nil
}

// PrintFindings writes a per-table summary and up to show mismatches per
// table.
func PrintFindings(f *Findings, show int) {
	fmt.Printf("File: %s\n\n", f.File)
	fmt.Printf("%-20s %-10s %-10s %-10s %-30s\n", "TABLE", "ROWS", "MATCHED", "MISMATCH", "SCHEMES")
	fmt.Println(strings.Repeat("-", 84))
	for _, r := range f.Tables {
		fmt.Printf("%-20s %-10d %-10d %-10d %-30s\n",
			r.Table, r.Total, r.Matched, len(r.Mismatches), schemeList(r))
	}

	for _, r := range f.Tables {
		for i, m := range r.Mismatches {
			if i == 0 {
				fmt.Printf("\n%s mismatches:\n", r.Table)
			}
			if show > 0 && i >= show {
				fmt.Printf("  ... and %d more\n", len(r.Mismatches)-show)
				break
			}
			fmt.Printf("  %-21d -> %-21d %-16s %s\n", m.Stored, m.Expected, m.Scheme, strings.Join(m.Key, "/"))
		}
	}

	if f.Layout != "" {
		fmt.Printf("\nLayout: %s (aggregates not checked)\n", f.Layout)
	}
	if len(f.Drift) > 0 {
		fmt.Printf("\nAggregate drift (%d):\n", len(f.Drift))
		for _, dr := range f.Drift {
			fmt.Printf("  %s\n", dr)
		}
	}
	if f.OK() {
		fmt.Println("\nAll keys verified")
	}
}

func schemeList(r *verifypkg.Report) string {
	if len(r.ByScheme) == 0 {
		return "-"
	}
	names := make([]string, 0, len(r.ByScheme))
	for s, n := range r.ByScheme {
		names = append(names, fmt.Sprintf("%s=%d", s, n))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
