package content

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

type manPageFront struct {
	Title        string     `yaml:"title"`
	MainCategory string     `yaml:"main_category"`
	SubCategory  string     `yaml:"sub_category"`
	Slug         string     `yaml:"slug"`
	Filename     string     `yaml:"filename"`
	Description  string     `yaml:"description"`
	Keywords     stringList `yaml:"keywords"`
	Content      any        `yaml:"content"`
}

// manPageReader reads <main>/<sub>/<name>.md files with YAML frontmatter.
type manPageReader struct{}

func init() {
	register(schema.ManPages, manPageReader{})
}

func (manPageReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".md")
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	slugs := slugTracker{}
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
		rec, err := parseManPage(rel, data, slugs)
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

func parseManPage(rel string, data []byte, slugs slugTracker) (*models.Record, error) {
	var fm manPageFront
	body, err := parseFrontmatter(data, &fm)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(rel, "/")
	var pathMain, pathSub string
	if len(parts) >= 3 {
		pathMain, pathSub = parts[len(parts)-3], parts[len(parts)-2]
	}

	main := strings.TrimSpace(fm.MainCategory)
	if main == "" {
		main = pathMain
	}
	sub := strings.TrimSpace(fm.SubCategory)
	if sub == "" {
		sub = pathSub
	}
	sub = strings.ReplaceAll(strings.ToLower(sub), " ", "-")
	if main == "" || sub == "" {
		return nil, fmt.Errorf("cannot determine category of %s: expected <main>/<sub>/<file>.md or frontmatter", rel)
	}

	filename := fm.Filename
	if filename == "" {
		filename = filepath.Base(rel)
	}
	title := strings.TrimSpace(fm.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(rel), ".md")
	}

	slug := cleanSlug(fm.Slug)
	if slug == "" {
		slug = slugs.unique(main+"\x00"+sub, manPageSlug(title, filename, main, sub))
	}

	payload := body
	if fm.Content != nil {
		b, err := json.Marshal(fm.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content of %s: %w", rel, err)
		}
		payload = string(b)
	}

	return &models.Record{
		Domain:      schema.ManPages,
		NaturalKey:  []string{main, sub, slug},
		Title:       title,
		Description: strings.TrimSpace(fm.Description),
		Keywords:    fm.Keywords,
		Payload:     payload,
		Fields:      map[string]any{"filename": filename},
		Source:      rel,
	}, nil
}
