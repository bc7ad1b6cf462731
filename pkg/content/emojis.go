package content

import (
	"context"
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// emojiReader reads one JSON document per emoji. The key is
// (category, slug); an emoji without a category keeps "" as its first part.
type emojiReader struct{}

func init() {
	register(schema.Emojis, emojiReader{})
}

func (emojiReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".json")
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
		rec, err := parseEmoji(rel, data)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// jsonText renders scalars as themselves and anything else as sorted JSON.
func jsonText(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		return oj.JSON(v, &oj.Options{Sort: true})
	default:
		return asString(v)
	}
}

func parseEmoji(rel string, data []byte) (*models.Record, error) {
	doc, err := parseJSON(data)
	if err != nil {
		return nil, err
	}

	slug := doc.str("$.slug")
	if slug == "" {
		return nil, fmt.Errorf("%s has no slug", rel)
	}
	category := doc.str("$.category")
	title := doc.str("$.title")
	if title == "" {
		title = slug
	}

	extra := map[string]any{}
	for _, k := range []string{"apple_vendor_description", "discord_vendor_description", "alsoKnownAs", "senses", "shortcodes"} {
		if v := doc.first("$." + k); v != nil {
			extra[k] = v
		}
	}

	return &models.Record{
		Domain:      schema.Emojis,
		NaturalKey:  []string{category, slug},
		Title:       title,
		Description: doc.str("$.description"),
		Keywords:    doc.list("$.keywords"),
		Payload:     doc.str("$.apple_vendor_description"),
		Fields: map[string]any{
			"code":    doc.str("$.code"),
			"unicode": jsonText(doc.first("$.Unicode")),
			"version": jsonText(doc.first("$.version")),
		},
		Extra:  extra,
		Source: rel,
	}, nil
}
