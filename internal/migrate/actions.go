package migrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	migratepkg "github.com/freedevtools/fdtdb/pkg/migrate"
	"github.com/freedevtools/fdtdb/pkg/report"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

func MigrateAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	d, err := common.DomainArg(c)
	if err != nil {
		return common.Exit(err)
	}

	run := report.NewRun("migrate", d.Name, time.Now())
	opts := Options(c, d, run.ID)

	res, err := migratepkg.NewEngine(env.Store).Run(c.Context, d, opts)
	run.Details = res
	if !c.Bool("quiet") && res != nil {
		PrintResult(res, opts.DryRun)
	}
	common.SaveReport(c, env, run, err)
	return common.Exit(err)
}

// Options turns flags into engine options. Extra steps are stamped with
// the domain version so they journal next to the plan's last step.
func Options(c *cli.Context, d schema.Domain, runID string) migratepkg.Options {
	opts := migratepkg.Options{
		From:    c.Int("from"),
		Target:  c.Int("target"),
		DryRun:  c.Bool("dry-run"),
		Publish: c.Bool("publish"),
		RunID:   runID,
	}
	if stmts := c.StringSlice("exec"); len(stmts) > 0 {
		opts.Extra = append(opts.Extra, migratepkg.ExecSQL("exec-sql", d.Version, migratepkg.KindData, stmts...))
	}
	if c.Bool("touch") {
		opts.Extra = append(opts.Extra, migratepkg.TouchUpdatedAt(d.Version))
	}
	return opts
}

// PrintResult writes the pending plan or the applied steps.
func PrintResult(res *migratepkg.Result, dryRun bool) {
	fmt.Printf("Domain:   %s\n", res.Domain)
	fmt.Printf("Source:   %s (user_version %d)\n", res.Source, res.FromVersion)
	if res.Dest != "" {
		fmt.Printf("Dest:     %s (user_version %d)\n", res.Dest, res.ToVersion)
	}
	fmt.Printf("State:    %s\n", res.State)

	if len(res.Pending) == 0 {
		fmt.Println("\nNothing to migrate")
		return
	}
	if dryRun || len(res.Steps) == 0 {
		fmt.Printf("\nPending (%d):\n", len(res.Pending))
		fmt.Println(strings.Repeat("-", 60))
		for i, p := range res.Pending {
			fmt.Printf("%2d. %s\n", i+1, p)
		}
		return
	}

	fmt.Printf("\n%-4s %-40s %-8s %-10s\n", "VER", "STEP", "KIND", "DURATION")
	fmt.Println(strings.Repeat("-", 70))
	for _, s := range res.Steps {
		fmt.Printf("%-4d %-40s %-8s %-10s\n", s.Version, s.Name, s.Kind, s.Duration.Round(time.Millisecond))
		for _, ch := range s.Changes {
			fmt.Printf("     %s\n", ch)
		}
	}
	fmt.Printf("\nApplied %d of %d pending steps\n", len(res.Steps), len(res.Pending))
}
