package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

type tldrFront struct {
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Category    string     `yaml:"category"`
	Path        string     `yaml:"path"`
	Keywords    stringList `yaml:"keywords"`
	Features    stringList `yaml:"features"`
}

// tldrReader reads <platform>/<command>.md pages.
type tldrReader struct{}

func init() {
	register(schema.TLDR, tldrReader{})
}

func (tldrReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".md")
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limitReached(opts, len(batch.Records)) {
			break
		}

		data, err := src.ReadFile(rel)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		rec, err := parseTLDRPage(rel, data)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		if opts.Language != nil && !opts.Language.IsEnglish(rec.Description+"\n"+rec.Payload) {
			batch.skip(rec, "not english")
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func parseTLDRPage(rel string, data []byte) (*models.Record, error) {
	var fm tldrFront
	body, err := parseFrontmatter(data, &fm)
	if err != nil {
		return nil, err
	}

	platform, command := splitDir(rel)
	if platform == "" {
		return nil, fmt.Errorf("%s is not inside a platform directory", rel)
	}

	// the page heading repeats the title
	if first, rest, ok := strings.Cut(body, "\n"); ok && strings.HasPrefix(strings.TrimSpace(first), "# ") {
		body = strings.TrimSpace(rest)
	} else if strings.HasPrefix(strings.TrimSpace(body), "# ") && !ok {
		body = ""
	}

	title := strings.TrimSpace(fm.Title)
	if title == "" {
		title = command
	}
	path := strings.TrimSuffix(fm.Path, "/")
	if path == "" {
		path = fmt.Sprintf("/freedevtools/tldr/%s/%s", platform, command)
	}

	extra := map[string]any{"path": path + "/"}
	if len(fm.Features) > 0 {
		extra["features"] = []string(fm.Features)
	}
	if fm.Category != "" && fm.Category != platform {
		extra["category"] = fm.Category
	}

	return &models.Record{
		Domain:      schema.TLDR,
		NaturalKey:  []string{platform, command},
		Title:       title,
		Description: strings.TrimSpace(fm.Description),
		Keywords:    fm.Keywords,
		Payload:     body,
		Extra:       extra,
		Source:      rel,
	}, nil
}
