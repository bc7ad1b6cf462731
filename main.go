package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/build"
	"github.com/freedevtools/fdtdb/internal/common"
	"github.com/freedevtools/fdtdb/internal/db"
	"github.com/freedevtools/fdtdb/internal/generations"
	"github.com/freedevtools/fdtdb/internal/migrate"
	"github.com/freedevtools/fdtdb/internal/schema"
	"github.com/freedevtools/fdtdb/internal/verify"
)

var version = "dev"

func generationFlag() cli.Flag {
	return &cli.IntFlag{Name: "generation", Aliases: []string{"g"}, Usage: "generation number (default: latest)"}
}

func showFlag() cli.Flag {
	return &cli.IntFlag{Name: "show", Value: 10, Usage: "mismatches to print per table (0 = all)"}
}

func yesFlag() cli.Flag {
	return &cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"}
}

func main() {
	app := &cli.App{
		Name:    "fdtdb",
		Usage:   "build, migrate and verify the hash-keyed content databases",
		Version: version,

		// --exec takes SQL, which contains commas.
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default: ./fdtdb.yaml)"},
			&cli.StringFlag{Name: "db-dir", Usage: "directory holding generation files", EnvVars: []string{"FDTDB_DB_DIR"}},
			&cli.StringFlag{Name: "report-dir", Usage: "directory run reports are written to"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors, print no tables"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "load a domain's sources into a new generation",
				ArgsUsage: "<domain>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "stop after this many records"},
					&cli.BoolFlag{Name: "dry-run", Usage: "parse sources and report without writing"},
					&cli.BoolFlag{Name: "english-only", Usage: "skip records not detected as English"},
					&cli.BoolFlag{Name: "publish", Usage: "publish the generation once built"},
				},
				Action: build.BuildAction,
			},
			{
				Name:      "migrate",
				Usage:     "copy the latest generation and apply pending steps to the copy",
				ArgsUsage: "<domain>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "from", Usage: "source generation (default: latest)"},
					&cli.IntFlag{Name: "target", Usage: "highest step version to apply (default: all)"},
					&cli.StringSliceFlag{Name: "exec", Usage: "extra SQL statement to run after the plan (repeatable)"},
					&cli.BoolFlag{Name: "touch", Usage: "bump updated_at of every content row"},
					&cli.BoolFlag{Name: "publish", Usage: "publish the new generation once verified"},
					&cli.BoolFlag{Name: "dry-run", Usage: "list pending steps without copying"},
				},
				Action: migrate.MigrateAction,
			},
			{
				Name:      "verify",
				Usage:     "recompute every key of a generation and report mismatches",
				ArgsUsage: "<domain> [generation]",
				Flags:     []cli.Flag{generationFlag(), showFlag()},
				Action:    verify.VerifyAction,
			},
			{
				Name:      "repair",
				Usage:     "rewrite mismatched keys of an unpublished generation",
				ArgsUsage: "<domain> [generation]",
				Flags:     []cli.Flag{generationFlag(), showFlag(), yesFlag()},
				Action:    verify.RepairAction,
			},
			{
				Name:      "aggregate",
				Usage:     "check or rebuild the aggregate tables of a generation",
				ArgsUsage: "<domain> [generation]",
				Flags: []cli.Flag{
					generationFlag(),
					&cli.BoolFlag{Name: "rebuild", Usage: "regenerate instead of checking"},
				},
				Action: verify.AggregateAction,
			},
			{
				Name:  "generations",
				Usage: "list, publish and upload generation files",
				Subcommands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "list generations",
						ArgsUsage: "[domain]",
						Action:    generations.ListAction,
					},
					{
						Name:      "publish",
						Usage:     "checksum a generation and make it read-only",
						ArgsUsage: "<domain> [generation]",
						Flags: []cli.Flag{
							generationFlag(),
							&cli.StringFlag{Name: "run-id", Usage: "run id recorded in the manifest"},
						},
						Action: generations.PublishAction,
					},
					{
						Name:      "upload",
						Usage:     "copy a published generation to the configured bucket",
						ArgsUsage: "<domain> [generation]",
						Flags:     []cli.Flag{generationFlag()},
						Action:    generations.UploadAction,
					},
				},
			},
			{
				Name:  "db",
				Usage: "inspect database files",
				Subcommands: []*cli.Command{
					{
						Name:      "inspect",
						Usage:     "show tables, row counts and applied migrations",
						ArgsUsage: "<file>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "integrity", Usage: "also run PRAGMA integrity_check"},
						},
						Action: db.InspectAction,
					},
				},
			},
			{
				Name:  "schema",
				Usage: "create, drop or print a domain's tables",
				Subcommands: []*cli.Command{
					{
						Name:      "ensure",
						Usage:     "create missing tables and indexes",
						ArgsUsage: "<domain> [generation]",
						Flags: []cli.Flag{
							generationFlag(),
							&cli.StringFlag{Name: "file", Usage: "operate on this file instead of a generation"},
						},
						Action: schema.EnsureAction,
					},
					{
						Name:      "drop",
						Usage:     "drop every table of the domain",
						ArgsUsage: "<domain> [generation]",
						Flags: []cli.Flag{
							generationFlag(),
							&cli.StringFlag{Name: "file", Usage: "operate on this file instead of a generation"},
							yesFlag(),
						},
						Action: schema.DropAction,
					},
					{
						Name:      "show",
						Usage:     "print the DDL of a domain",
						ArgsUsage: "<domain>",
						Action:    schema.ShowAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(common.ExitFatal)
	}
}
