package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freedevtools/fdtdb/models"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// Result is everything one load produced.
type Result struct {
	Outcomes   []models.Outcome
	Categories map[string]CategoryMeta
	Duration   time.Duration
}

// Load reads src with the domain's reader and writes the records to the
// domain's content table. With opts.DryRun nothing is written and every
// parsed record is reported as skipped.
func Load(ctx context.Context, db *dbpkg.DB, d schema.Domain, src *Source, opts Options) (*Result, error) {
	start := time.Now()

	reader, err := ReaderFor(d.Name)
	if err != nil {
		return nil, err
	}

	batch, err := reader.Read(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s sources: %w", d.Name, err)
	}
	slog.Info("sources parsed",
		"domain", d.Name,
		"records", len(batch.Records),
		"rejected", len(batch.Outcomes))

	res := &Result{Categories: batch.Categories}
	res.Outcomes = append(res.Outcomes, batch.Outcomes...)

	if opts.DryRun {
		for _, r := range batch.Records {
			res.Outcomes = append(res.Outcomes, models.Skipped(r, "dry run"))
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	written, err := NewWriter(db, d.Content).Write(ctx, batch.Records)
	if err != nil {
		return nil, err
	}
	res.Outcomes = append(res.Outcomes, written...)
	res.Duration = time.Since(start)

	for _, o := range res.Outcomes {
		if o.Status == models.StatusFailed {
			slog.Warn("record failed", "domain", d.Name, "key", o.Key, "source", o.Source, "reason", o.Reason)
		}
	}
	return res, nil
}
