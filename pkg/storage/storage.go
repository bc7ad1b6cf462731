// Package storage names, lists, copies, locks and publishes generation
// files under the database directory.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

var (
	// ErrPublished is returned when a published generation would be
	// written to.
	ErrPublished = errors.New("generation is published and read-only")
	// ErrWALPresent is returned when a generation has a non-empty -wal
	// file, i.e. it was not closed cleanly and a byte copy would be stale.
	ErrWALPresent = errors.New("generation has a pending write-ahead log")
	// ErrExists is returned when a copy destination already exists.
	ErrExists = errors.New("generation already exists")
	// ErrNoGeneration is returned when a domain has no generation file.
	ErrNoGeneration = errors.New("no generation found")
	// ErrNoSpace is returned when the disk cannot hold a copy.
	ErrNoSpace = errors.New("not enough free disk space")
)

var namePattern = regexp.MustCompile(`^(.+)-db-v(\d+)\.db$`)

// FileName is the conventional name of generation n of domain.
func FileName(domain string, n int) string {
	return fmt.Sprintf("%s-db-v%d.db", domain, n)
}

// ParseName splits a generation file name into domain and version.
func ParseName(name string) (domain string, n int, ok bool) {
	m := namePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return m[1], n, true
}

// FileStats holds metadata about a file without reading its contents.
type FileStats struct {
	SizeBytes int64
	ModTime   time.Time
	Mode      os.FileMode
}

// Generation is one generation file found on disk.
type Generation struct {
	Domain    string    `json:"domain" yaml:"domain"`
	Version   int       `json:"version" yaml:"version"`
	Name      string    `json:"name" yaml:"name"`
	Size      int64     `json:"size" yaml:"size"`
	ModTime   time.Time `json:"mod_time" yaml:"mod_time"`
	Published bool      `json:"published" yaml:"published"`
}

// Store is the database directory.
type Store struct {
	dir string
	fs  billy.Filesystem
}

// NewStore roots a Store at dir, creating it when missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return &Store{dir: abs, fs: osfs.New(abs)}, nil
}

// Dir is the absolute database directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path is the absolute path of a file in the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// GenerationPath is Path(FileName(domain, n)).
func (s *Store) GenerationPath(domain string, n int) string {
	return s.Path(FileName(domain, n))
}

// Stat returns size and modification time of a file in the store.
func (s *Store) Stat(name string) (*FileStats, error) {
	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("error getting file stats: %w", err)
	}
	return &FileStats{
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		Mode:      info.Mode(),
	}, nil
}

// HasFile reports whether name exists in the store.
func (s *Store) HasFile(name string) bool {
	_, err := s.fs.Stat(name)
	return err == nil || !os.IsNotExist(err)
}

// List returns the generations of domain ordered by version. An empty domain
// lists every generation. Incomplete generations are left out.
func (s *Store) List(domain string) ([]Generation, error) {
	entries, err := s.fs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("failed to read db directory: %w", err)
	}
	manifest, err := s.readManifest()
	if err != nil {
		return nil, err
	}

	incomplete := map[string]bool{}
	for _, e := range entries {
		if isMarker(e.Name()) {
			incomplete[strings.TrimSuffix(e.Name(), incompleteSuffix)] = true
		}
	}

	var out []Generation
	for _, e := range entries {
		if e.IsDir() || incomplete[e.Name()] {
			continue
		}
		d, n, ok := ParseName(e.Name())
		if !ok || (domain != "" && d != domain) {
			continue
		}
		out = append(out, Generation{
			Domain:    d,
			Version:   n,
			Name:      e.Name(),
			Size:      e.Size(),
			ModTime:   e.ModTime(),
			Published: manifest.find(d, n) != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Latest returns the highest-numbered generation of domain.
func (s *Store) Latest(domain string) (Generation, error) {
	gens, err := s.List(domain)
	if err != nil {
		return Generation{}, err
	}
	if len(gens) == 0 {
		return Generation{}, fmt.Errorf("%w for %s in %s", ErrNoGeneration, domain, s.dir)
	}
	return gens[len(gens)-1], nil
}

// Next returns the version the next generation of domain would get.
func (s *Store) Next(domain string) (int, error) {
	g, err := s.Latest(domain)
	if errors.Is(err, ErrNoGeneration) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return g.Version + 1, nil
}

// walSize returns the size of name's -wal sidecar, 0 when absent.
func (s *Store) walSize(name string) (int64, error) {
	info, err := s.fs.Stat(name + "-wal")
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s-wal: %w", name, err)
	}
	return info.Size(), nil
}

// CheckClean returns ErrWALPresent when name has a non-empty -wal file.
func (s *Store) CheckClean(name string) error {
	n, err := s.walSize(name)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s-wal is %d bytes; open and close it with sqlite3 to checkpoint", ErrWALPresent, name, n)
	}
	return nil
}
