// Package content reads per-domain source trees into records and writes
// them to a generation's content table.
package content

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/detector"
)

// IgnoreFile in a source root adds exclusion patterns for that tree.
const IgnoreFile = ".fdtdbignore"

// ErrSourceMissing is returned when a domain's source directory is absent.
var ErrSourceMissing = errors.New("source directory missing")

// Options tune one load.
type Options struct {
	Exclude []string
	// Limit stops after this many records; 0 means no limit.
	Limit   int
	DryRun  bool
	Workers int
	// Language, when set, skips records whose text is not English.
	Language *detector.Detector
}

// Batch is what a Reader produced from one source tree.
type Batch struct {
	Records []*models.Record
	// Outcomes of files that produced no record (parse failures, filtered).
	Outcomes []models.Outcome
	// Categories carries descriptions some sources ship per category, keyed
	// by the category name.
	Categories map[string]CategoryMeta
}

type CategoryMeta struct {
	Description string
	Keywords    []string
}

func (b *Batch) fail(rel string, err error) {
	b.Outcomes = append(b.Outcomes, models.Failed(rel, rel, err))
}

func (b *Batch) skip(r *models.Record, reason string) {
	b.Outcomes = append(b.Outcomes, models.Skipped(r, reason))
}

// Reader turns one domain's source tree into records. Parse failures are
// returned as outcomes, not errors; an error aborts the load.
type Reader interface {
	Read(ctx context.Context, src *Source, opts Options) (*Batch, error)
}

var readers = map[string]Reader{}

func register(domain string, r Reader) {
	readers[domain] = r
}

// ReaderFor returns the reader registered for domain.
func ReaderFor(domain string) (Reader, error) {
	r, ok := readers[domain]
	if !ok {
		return nil, fmt.Errorf("no content reader for domain %q", domain)
	}
	return r, nil
}

// Source is a domain source tree plus its exclusion rules.
type Source struct {
	FS      billy.Filesystem
	exclude *ignore.GitIgnore
}

// OpenSource roots a Source at dir on the local disk.
func OpenSource(dir string, exclude []string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, dir)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceMissing, dir)
	}
	return NewSource(osfs.New(dir), exclude)
}

// NewSource wraps any billy filesystem. Patterns from a root IgnoreFile are
// appended to exclude.
func NewSource(fs billy.Filesystem, exclude []string) (*Source, error) {
	lines := append([]string{}, exclude...)

	data, err := util.ReadFile(fs, IgnoreFile)
	switch {
	case err == nil:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFile, err)
	}
	lines = append(lines, IgnoreFile)

	return &Source{FS: fs, exclude: ignore.CompileIgnoreLines(lines...)}, nil
}

// Excluded reports whether a slash-separated relative path is excluded.
func (s *Source) Excluded(rel string) bool {
	return s.exclude.MatchesPath(rel)
}

// Files lists every non-excluded regular file whose extension is one of
// exts, sorted, as slash-separated paths relative to the root.
func (s *Source) Files(exts ...string) ([]string, error) {
	var out []string
	err := util.Walk(s.FS, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(path), "/")
		if rel == "" {
			return nil
		}
		if info.IsDir() {
			if s.Excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.Excluded(rel) || !hasExt(rel, exts) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile reads a file relative to the source root.
func (s *Source) ReadFile(rel string) ([]byte, error) {
	return util.ReadFile(s.FS, rel)
}

func hasExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// splitDir returns the first directory component of rel and the file stem,
// e.g. "linux/ls.md" -> ("linux", "ls").
func splitDir(rel string) (dir, stem string) {
	base := filepath.Base(rel)
	stem = strings.TrimSuffix(base, filepath.Ext(base))
	d := filepath.ToSlash(filepath.Dir(rel))
	if d == "." {
		return "", stem
	}
	if i := strings.Index(d, "/"); i >= 0 {
		return d[:i], stem
	}
	return d, stem
}

// limitReached reports whether n records satisfy opts.Limit.
func limitReached(opts Options, n int) bool {
	return opts.Limit > 0 && n >= opts.Limit
}
