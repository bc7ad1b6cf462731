package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Metadata is what the cheatsheet loader needs from one HTML document.
type Metadata struct {
	Title       string
	Description string
	Keywords    []string
	// Body is the inner HTML of <body>, or the whole document when it has none.
	Body string
	// Text is the normalised visible text of Body.
	Text string
	// DescriptionFromExcerpt is set when Description came from readability.
	DescriptionFromExcerpt bool
}

type Parser struct{}

// ParseMetadata extracts title, meta description, meta keywords and body.
// When the page has no meta description, readability's excerpt of the main
// content is used instead. pageURL resolves relative links for readability.
func (p *Parser) ParseMetadata(html string, pageURL *url.URL) (*Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	md := &Metadata{
		Title:       normalizeText(doc.Find("head title").First().Text()),
		Description: metaContent(doc, "description"),
		Keywords:    splitKeywords(metaContent(doc, "keywords")),
	}
	if md.Title == "" {
		md.Title = normalizeText(doc.Find("h1").First().Text())
	}

	body := doc.Find("body").First()
	if body.Length() > 0 {
		inner, err := body.Html()
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}
		md.Body = strings.TrimSpace(inner)
		md.Text = normalizeText(body.Text())
	} else {
		md.Body = strings.TrimSpace(html)
		md.Text = normalizeText(doc.Text())
	}

	if md.Description == "" {
		rp := readability.NewParser()
		article, err := rp.Parse(strings.NewReader(html), pageURL)
		if err == nil && article.Excerpt != "" {
			md.Description = normalizeText(article.Excerpt)
			md.DescriptionFromExcerpt = true
		}
		if md.Title == "" && err == nil {
			md.Title = normalizeText(article.Title)
		}
	}

	return md, nil
}

func metaContent(doc *goquery.Document, name string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		n, _ := s.Attr("name")
		if !strings.EqualFold(n, name) {
			return true
		}
		out, _ = s.Attr("content")
		return false
	})
	return normalizeText(out)
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// normalizeText cleans up a string by trimming space and removing excess newlines.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			// Write the line and a single space for separation
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	// Return the result, trimming the final space
	return strings.TrimSpace(b.String())
}

// NormalizeText is normalizeText for other packages.
func NormalizeText(input string) string {
	return normalizeText(input)
}
