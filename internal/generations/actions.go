package generations

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/internal/common"
	"github.com/freedevtools/fdtdb/internal/verify"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
)

func ListAction(c *cli.Context) error {
	env, err := common.Setup(c)
	if err != nil {
		return common.Exit(err)
	}

	domains := schema.Domains()
	if c.NArg() > 0 {
		d, err := common.DomainArg(c)
		if err != nil {
			return common.Exit(err)
		}
		domains = []string{d.Name}
	}

	fmt.Printf("%-12s %-28s %-5s %-12s %-20s %-10s\n",
		"DOMAIN", "FILE", "GEN", "SIZE", "MODIFIED", "PUBLISHED")
	fmt.Println(strings.Repeat("-", 92))

	total := 0
	for _, name := range domains {
		gens, err := env.Store.List(name)
		if err != nil {
			return common.Exit(err)
		}
		for _, g := range gens {
			published := "-"
			if g.Published {
				published = "yes"
			}
			fmt.Printf("%-12s %-28s %-5d %-12s %-20s %-10s\n",
				g.Domain, g.Name, g.Version, humanSize(g.Size), g.ModTime.Format("2006-01-02 15:04:05"), published)
			total++
		}
	}
	fmt.Printf("\nTotal: %d generations in %s\n", total, env.Store.Dir())
	return nil
}

func PublishAction(c *cli.Context) error {
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

	if err := verify.CheckPublishable(c.Context, env, d, n); err != nil {
		return common.Exit(err)
	}
	p, err := env.Store.Publish(d.Name, n, c.String("run-id"))
	if err != nil {
		return common.Exit(err)
	}
	fmt.Printf("Published %s\n", p.File)
	fmt.Printf("  sha256: %s\n", p.SHA256)
	fmt.Printf("  size:   %s\n", humanSize(p.SizeBytes))
	return nil
}

func UploadAction(c *cli.Context) error {
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

	up, err := storage.NewUploader(env.Config.Upload)
	if err != nil {
		return common.Exit(err)
	}
	location, err := up.Upload(c.Context, env.Store, d.Name, n)
	if err != nil {
		return common.Exit(err)
	}
	fmt.Printf("Uploaded %s to %s\n", storage.FileName(d.Name, n), location)
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
