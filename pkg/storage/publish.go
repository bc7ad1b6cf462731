package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"
)

// ManifestFile lists published generations in the db directory.
const ManifestFile = "generations.yaml"

// Published is one entry of the manifest.
type Published struct {
	Domain      string    `yaml:"domain"`
	Version     int       `yaml:"version"`
	File        string    `yaml:"file"`
	SizeBytes   int64     `yaml:"size_bytes"`
	SHA256      string    `yaml:"sha256"`
	PublishedAt time.Time `yaml:"published_at"`
	RunID       string    `yaml:"run_id,omitempty"`
	UploadedTo  string    `yaml:"uploaded_to,omitempty"`
}

type manifest struct {
	Generations []Published `yaml:"generations"`
}

func (m *manifest) find(domain string, n int) *Published {
	for i := range m.Generations {
		if m.Generations[i].Domain == domain && m.Generations[i].Version == n {
			return &m.Generations[i]
		}
	}
	return nil
}

func (s *Store) readManifest() (*manifest, error) {
	data, err := util.ReadFile(s.fs, ManifestFile)
	if os.IsNotExist(err) {
		return &manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}

func (s *Store) writeManifest(m *manifest) error {
	sort.Slice(m.Generations, func(i, j int) bool {
		a, b := m.Generations[i], m.Generations[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Version < b.Version
	})
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ManifestFile, err)
	}
	tmp := ManifestFile + partialSuffix
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	if err := s.fs.Rename(tmp, ManifestFile); err != nil {
		return fmt.Errorf("failed to replace %s: %w", ManifestFile, err)
	}
	return nil
}

// IsPublished reports whether generation n of domain is in the manifest.
func (s *Store) IsPublished(domain string, n int) (bool, error) {
	m, err := s.readManifest()
	if err != nil {
		return false, err
	}
	return m.find(domain, n) != nil, nil
}

// Published returns the manifest entry of a published generation.
func (s *Store) Published(domain string, n int) (*Published, error) {
	m, err := s.readManifest()
	if err != nil {
		return nil, err
	}
	p := m.find(domain, n)
	if p == nil {
		return nil, fmt.Errorf("%s is not published", FileName(domain, n))
	}
	return p, nil
}

// CheckWritable returns ErrPublished when generation n of domain must not be
// opened for writing.
func (s *Store) CheckWritable(domain string, n int) error {
	published, err := s.IsPublished(domain, n)
	if err != nil {
		return err
	}
	if published {
		return fmt.Errorf("%w: %s", ErrPublished, FileName(domain, n))
	}
	return nil
}

// Publish records generation n of domain in the manifest with its checksum
// and makes the file read-only. Publishing twice fails with ErrPublished,
// publishing an incomplete generation with ErrIncomplete.
func (s *Store) Publish(domain string, n int, runID string) (*Published, error) {
	name := FileName(domain, n)
	if err := s.CheckWritable(domain, n); err != nil {
		return nil, err
	}
	if s.IsIncomplete(name) {
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, name)
	}
	if err := s.CheckClean(name); err != nil {
		return nil, err
	}
	stats, err := s.Stat(name)
	if err != nil {
		return nil, err
	}
	sum, err := s.checksum(name)
	if err != nil {
		return nil, err
	}

	m, err := s.readManifest()
	if err != nil {
		return nil, err
	}
	p := Published{
		Domain:      domain,
		Version:     n,
		File:        name,
		SizeBytes:   stats.SizeBytes,
		SHA256:      sum,
		PublishedAt: time.Now().UTC().Truncate(time.Second),
		RunID:       runID,
	}
	m.Generations = append(m.Generations, p)

	if ch, ok := s.fs.(billy.Change); ok {
		if err := ch.Chmod(name, 0o444); err != nil {
			return nil, fmt.Errorf("failed to make %s read-only: %w", name, err)
		}
	}
	if err := s.writeManifest(m); err != nil {
		return nil, err
	}

	slog.Info("generation published", "file", name, "sha256", sum, "bytes", stats.SizeBytes)
	return &p, nil
}

// MarkUploaded records where a published generation was uploaded.
func (s *Store) MarkUploaded(domain string, n int, location string) error {
	m, err := s.readManifest()
	if err != nil {
		return err
	}
	p := m.find(domain, n)
	if p == nil {
		return errors.New(FileName(domain, n) + " is not published")
	}
	p.UploadedTo = location
	return s.writeManifest(m)
}

// Verify recomputes the checksum of a published generation and compares it
// with the manifest.
func (s *Store) Verify(domain string, n int) error {
	p, err := s.Published(domain, n)
	if err != nil {
		return err
	}
	sum, err := s.checksum(p.File)
	if err != nil {
		return err
	}
	if sum != p.SHA256 {
		return fmt.Errorf("%s changed after publishing: sha256 %s, manifest %s", p.File, sum, p.SHA256)
	}
	return nil
}

func (s *Store) checksum(name string) (string, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
