package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// mcpReader reads one JSON file per category, each holding a map of
// repositories keyed by the repository key.
type mcpReader struct{}

func init() {
	register(schema.MCP, mcpReader{})
}

func (mcpReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".json")
	if err != nil {
		return nil, err
	}

	batch := &Batch{Categories: map[string]CategoryMeta{}}
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
		doc, err := parseJSON(data)
		if err != nil {
			batch.fail(rel, err)
			continue
		}

		category := doc.str("$.category")
		if category == "" {
			batch.fail(rel, fmt.Errorf("%s has no category slug", rel))
			continue
		}
		meta := batch.Categories[category]
		if meta.Description == "" {
			meta.Description = doc.str("$.description")
		}
		batch.Categories[category] = meta
		display := doc.str("$.categoryDisplay")

		repos := doc.object("$.repositories")
		for _, key := range sortedKeys(repos) {
			if limitReached(opts, len(batch.Records)) {
				break
			}
			repo, ok := repos[key].(map[string]any)
			if !ok {
				batch.fail(rel+"#"+key, fmt.Errorf("repository %q is not an object", key))
				continue
			}
			batch.Records = append(batch.Records, mcpRecord(rel, category, display, key, repo))
		}
	}
	return batch, nil
}

func mcpRecord(rel, category, display, key string, repo map[string]any) *models.Record {
	r := &jsonDoc{root: repo}

	name := r.str("$.name")
	title := name
	if title == "" {
		title = key
	}

	return &models.Record{
		Domain:      schema.MCP,
		NaturalKey:  []string{category, key},
		Title:       title,
		Description: r.str("$.description"),
		Keywords:    r.list("$.topics"),
		Payload:     r.str("$.readme_content"),
		Fields: map[string]any{
			"name":            name,
			"owner":           r.str("$.owner"),
			"stars":           asInt(r.first("$.stars")),
			"forks":           asInt(r.first("$.forks")),
			"language":        r.str("$.language"),
			"license":         r.str("$.license"),
			"repo_updated_at": r.str("$.updated_at"),
		},
		Extra: map[string]any{
			"category_display": display,
			"data":             withoutKey(repo, "readme_content"),
		},
		Source: rel + "#" + strings.ReplaceAll(key, "#", "%23"),
	}
}

func withoutKey(m map[string]any, drop string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != drop {
			out[k] = v
		}
	}
	return out
}
