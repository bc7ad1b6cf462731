package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/migrate"
	"github.com/freedevtools/fdtdb/pkg/storage"
)

// Summary is everything inspect reports about one file.
type Summary struct {
	Path        string
	UserVersion int
	Entries     []dbpkg.MasterEntry
	Journal     []migrate.Applied
	Integrity   []string
}

// Inspect reads a generation file without modifying it.
func Inspect(ctx context.Context, path string, integrity bool) (*Summary, error) {
	db, err := dbpkg.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	s := &Summary{Path: path}
	if s.UserVersion, err = db.UserVersion(ctx); err != nil {
		return nil, err
	}
	if s.Entries, err = db.Inspect(ctx); err != nil {
		return nil, err
	}
	if s.Journal, err = migrate.Journal(ctx, db); err != nil {
		return nil, err
	}
	if integrity {
		if s.Integrity, err = db.IntegrityCheck(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func InspectAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}
	if c.NArg() == 0 {
		return cli.Exit("missing file argument", common.ExitPrecondition)
	}

	// A bare generation name resolves inside the db directory.
	path := c.Args().First()
	if _, _, ok := storage.ParseName(path); ok && !strings.ContainsRune(path, '/') {
		path = env.Store.Path(path)
	}

	s, err := Inspect(c.Context, path, c.Bool("integrity"))
	if err != nil {
		return common.Exit(err)
	}
	printSummary(s)
	if len(s.Integrity) > 0 {
		return cli.Exit(fmt.Sprintf("integrity check reported %d problems", len(s.Integrity)), common.ExitPrecondition)
	}
	return nil
}

func printSummary(s *Summary) {
	fmt.Printf("File:         %s\n", s.Path)
	fmt.Printf("user_version: %d\n\n", s.UserVersion)

	fmt.Printf("%-8s %-36s %-20s %-10s\n", "TYPE", "NAME", "TABLE", "ROWS")
	fmt.Println(strings.Repeat("-", 80))
	for _, e := range s.Entries {
		rows := ""
		if e.Type == "table" {
			rows = fmt.Sprintf("%d", e.RowCount)
		}
		fmt.Printf("%-8s %-36s %-20s %-10s\n", e.Type, e.Name, e.TblName, rows)
	}

	if len(s.Journal) > 0 {
		fmt.Printf("\nMigrations (%d):\n", len(s.Journal))
		fmt.Println(strings.Repeat("-", 80))
		for _, a := range s.Journal {
			fmt.Printf("v%-3d %-36s %-8s %-20s %s\n",
				a.Version, a.Name, a.Kind, a.AppliedAt.Format("2006-01-02 15:04:05"), a.RunID)
		}
	}

	if len(s.Integrity) > 0 {
		fmt.Printf("\nIntegrity problems (%d):\n", len(s.Integrity))
		for _, p := range s.Integrity {
			fmt.Printf("  %s\n", p)
		}
	}
}
