package content

import (
	"context"
	"fmt"
	"net/url"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/analytics"
	"github.com/freedevtools/fdtdb/pkg/parser"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

const cheatsheetBaseURL = "https://hexmos.com/freedevtools/c/"

// derivedKeywords is how many keywords a page without meta keywords gets.
const derivedKeywords = 8

// cheatsheetReader reads <category>/<name>.html files.
type cheatsheetReader struct {
	parser parser.Parser
}

func init() {
	register(schema.Cheatsheets, &cheatsheetReader{})
}

func (r *cheatsheetReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".html", ".htm")
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
		rec, err := r.parse(rel, data)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func (r *cheatsheetReader) parse(rel string, data []byte) (*models.Record, error) {
	dir, stem := splitDir(rel)
	if dir == "" {
		return nil, fmt.Errorf("%s is not inside a category directory", rel)
	}
	category, slug := fileSlug(dir), fileSlug(stem)

	pageURL, err := url.Parse(cheatsheetBaseURL + url.PathEscape(category) + "/" + url.PathEscape(slug) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to build page url for %s: %w", rel, err)
	}
	md, err := r.parser.ParseMetadata(string(data), pageURL)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if dir != category {
		extra["category_name"] = dir
	}
	if md.DescriptionFromExcerpt {
		extra["description_source"] = "excerpt"
	}
	keywords := md.Keywords
	if len(keywords) == 0 {
		keywords = analytics.Keywords(md.Text, derivedKeywords)
		extra["keywords_source"] = "derived"
	}

	return &models.Record{
		Domain:      schema.Cheatsheets,
		NaturalKey:  []string{category, slug},
		Title:       md.Title,
		Description: md.Description,
		Keywords:    keywords,
		Payload:     md.Body,
		Extra:       extra,
		Source:      rel,
	}, nil
}
