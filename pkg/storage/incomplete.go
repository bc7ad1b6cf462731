package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"
)

const (
	incompleteSuffix = ".incomplete"
	failedSuffix     = ".failed"
)

// ErrIncomplete is returned when a generation is still being written or
// was abandoned before it verified.
var ErrIncomplete = errors.New("generation is incomplete")

var sidecars = []string{"-wal", "-shm", "-journal"}

// MarkIncomplete hides name from List, Latest and Next until Complete is
// called. Readers never pick up a generation that has not verified.
func (s *Store) MarkIncomplete(name, runID string) error {
	marker := name + incompleteSuffix
	body := fmt.Sprintf("run %s at %s\n", runID, time.Now().UTC().Format(time.RFC3339))
	if err := util.WriteFile(s.fs, marker, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", marker, err)
	}
	return nil
}

// IsIncomplete reports whether name carries an incomplete marker.
func (s *Store) IsIncomplete(name string) bool {
	_, err := s.fs.Stat(name + incompleteSuffix)
	return err == nil
}

// Complete removes the incomplete marker of name.
func (s *Store) Complete(name string) error {
	err := s.fs.Remove(name + incompleteSuffix)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear incomplete marker of %s: %w", name, err)
	}
	return nil
}

// Discard moves name and its sidecar files aside as <name>.failed, replacing
// an earlier failed copy, and clears the incomplete marker. The moved file
// keeps its content for inspection. It returns the new name.
func (s *Store) Discard(name string) (string, error) {
	failed := name + failedSuffix
	if s.HasFile(name) {
		if err := s.fs.Rename(name, failed); err != nil {
			return "", fmt.Errorf("failed to move %s aside: %w", name, err)
		}
	}
	for _, suffix := range sidecars {
		if !s.HasFile(name + suffix) {
			_ = s.fs.Remove(failed + suffix)
			continue
		}
		if err := s.fs.Rename(name+suffix, failed+suffix); err != nil {
			return "", fmt.Errorf("failed to move %s%s aside: %w", name, suffix, err)
		}
	}
	if err := s.Complete(name); err != nil {
		return "", err
	}
	slog.Warn("generation discarded", "file", name, "moved_to", failed)
	return failed, nil
}

// DiscardStale discards name when an earlier run left it incomplete. The
// caller must hold the lock of name.
func (s *Store) DiscardStale(name string) error {
	if !s.IsIncomplete(name) {
		return nil
	}
	_, err := s.Discard(name)
	return err
}

func isMarker(name string) bool {
	return strings.HasSuffix(name, incompleteSuffix)
}
