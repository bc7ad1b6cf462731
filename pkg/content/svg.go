package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sourcegraph/conc/pool"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/schema"
)

// svgReader reads <cluster>/<name>.svg icons. Normalising and encoding run
// in a bounded pool; results come back to the caller, which stays the only
// writer.
type svgReader struct{}

func init() {
	register(schema.SVGIcons, svgReader{})
}

type svgJob struct {
	rel  string
	data []byte
}

type svgResult struct {
	rel string
	rec *models.Record
	err error
}

func (svgReader) Read(ctx context.Context, src *Source, opts Options) (*Batch, error) {
	files, err := src.Files(".svg")
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	p := pool.NewWithResults[svgResult]().WithMaxGoroutines(workers).WithContext(ctx)

	batch := &Batch{}
	for _, rel := range files {
		data, err := src.ReadFile(rel)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		job := svgJob{rel: rel, data: data}
		p.Go(func(ctx context.Context) (svgResult, error) {
			if err := ctx.Err(); err != nil {
				return svgResult{}, err
			}
			rec, err := processSVG(job)
			return svgResult{rel: job.rel, rec: rec, err: err}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].rel < results[j].rel })
	for _, res := range results {
		if res.err != nil {
			batch.fail(res.rel, res.err)
			continue
		}
		batch.Records = append(batch.Records, res.rec)
	}
	return batch, nil
}

var (
	xmlDecl    = regexp.MustCompile(`(?s)<\?xml.*?\?>`)
	xmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	doctype    = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*>`)
	interTag   = regexp.MustCompile(`>\s+<`)
	numPrefix  = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)`)
)

// normalizeSVG strips the prolog and comments and the whitespace between
// tags.
func normalizeSVG(data []byte) []byte {
	out := xmlDecl.ReplaceAll(data, nil)
	out = doctype.ReplaceAll(out, nil)
	out = xmlComment.ReplaceAll(out, nil)
	out = interTag.ReplaceAll(out, []byte("><"))
	return bytes.TrimSpace(out)
}

type svgInfo struct {
	Width, Height int
	ViewBox       string
	Title         string
}

func measureSVG(data []byte) (svgInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return svgInfo{}, fmt.Errorf("failed to parse svg: %w", err)
	}
	root := doc.Find("svg").First()
	if root.Length() == 0 {
		return svgInfo{}, fmt.Errorf("no <svg> element")
	}

	info := svgInfo{Title: strings.TrimSpace(root.ChildrenFiltered("title").First().Text())}
	info.ViewBox = attr(root, "viewBox")
	info.Width = dimension(attr(root, "width"))
	info.Height = dimension(attr(root, "height"))

	if (info.Width == 0 || info.Height == 0) && info.ViewBox != "" {
		f := strings.FieldsFunc(info.ViewBox, func(r rune) bool { return r == ' ' || r == ',' })
		if len(f) == 4 {
			if info.Width == 0 {
				info.Width = dimension(f[2])
			}
			if info.Height == 0 {
				info.Height = dimension(f[3])
			}
		}
	}
	return info, nil
}

// attr looks name up case-insensitively; the HTML parser lowercases some
// SVG attribute names.
func attr(s *goquery.Selection, name string) string {
	if v, ok := s.Attr(name); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := s.Attr(strings.ToLower(name)); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func dimension(v string) int {
	m := numPrefix.FindStringSubmatch(v)
	if m == nil {
		return 0
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return int(f + 0.5)
}

func processSVG(job svgJob) (*models.Record, error) {
	cluster, name := splitDir(job.rel)
	if cluster == "" {
		return nil, fmt.Errorf("%s is not inside a cluster directory", job.rel)
	}

	norm := normalizeSVG(job.data)
	info, err := measureSVG(norm)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", job.rel, err)
	}

	title := info.Title
	if title == "" {
		title = strings.ReplaceAll(name, "-", " ")
	}

	return &models.Record{
		Domain:     schema.SVGIcons,
		NaturalKey: []string{cluster, name},
		Title:      title,
		Payload:    string(norm),
		Fields: map[string]any{
			"base64": base64.StdEncoding.EncodeToString(norm),
			"width":  info.Width,
			"height": info.Height,
		},
		Extra: map[string]any{
			"view_box": info.ViewBox,
			"url":      fmt.Sprintf("/freedevtools/svg_icons/%s/%s/", cluster, name),
		},
		Source: job.rel,
	}, nil
}
