package content

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxSlugLen = 80

var (
	slugUnsafe   = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugRuns     = regexp.MustCompile(`[-\s]+`)
	manSection   = regexp.MustCompile(`\.\d+$`)
	fileSlugBad  = regexp.MustCompile(`[^a-zA-Z0-9_\-.+]+`)
	titleDashSep = []string{" — ", " - "}
)

// cleanSlug lowercases text, keeps the command part of "cmd - summary"
// titles, and collapses everything else to single hyphens.
func cleanSlug(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, sep := range titleDashSep {
		if i := strings.Index(text, sep); i >= 0 {
			text = text[:i]
			break
		}
	}
	s := slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "-")
	return strings.Trim(slugRuns.ReplaceAllString(s, "-"), "-")
}

// manPageSlug derives a slug from the title, then the file name (without
// extension and man section), then main-sub-filename.
func manPageSlug(title, filename, main, sub string) string {
	slug := cleanSlug(title)
	if len(slug) < 2 {
		name := strings.TrimSuffix(filename, filepath.Ext(filename))
		slug = cleanSlug(manSection.ReplaceAllString(name, ""))
	}
	if len(slug) < 2 {
		slug = cleanSlug(fmt.Sprintf("%s-%s-%s", main, sub, filename))
	}
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// fileSlug is the slug of a cheatsheet file or directory name: runs of
// characters outside [a-zA-Z0-9_-.+] become one hyphen. Case and leading or
// trailing hyphens are kept so slugs match the site's URLs.
func fileSlug(name string) string {
	return fileSlugBad.ReplaceAllString(name, "-")
}

// slugTracker hands out -2, -3 ... suffixes for derived slugs that repeat
// within one group.
type slugTracker map[string]map[string]bool

func (t slugTracker) unique(group, slug string) string {
	used, ok := t[group]
	if !ok {
		used = map[string]bool{}
		t[group] = used
	}
	candidate := slug
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", slug, n)
	}
	used[candidate] = true
	return candidate
}
