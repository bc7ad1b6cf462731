package storage

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLocked is returned when another run owns a generation.
var ErrLocked = errors.New("generation is locked by another run")

// Lock marks a generation file as owned by one run.
type Lock struct {
	s    *Store
	name string
}

// Lock takes the exclusive lock file <name>.lock. runID is written into it
// for whoever finds a stale lock.
func (s *Store) Lock(name, runID string) (*Lock, error) {
	lockName := name + ".lock"
	f, err := s.fs.OpenFile(lockName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			owner, _ := s.readLock(lockName)
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, name, owner)
		}
		return nil, fmt.Errorf("failed to create %s: %w", lockName, err)
	}
	_, werr := fmt.Fprintf(f, "run %s pid %d at %s\n", runID, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = s.fs.Remove(lockName)
		return nil, fmt.Errorf("failed to write %s: %w", lockName, err)
	}
	return &Lock{s: s, name: lockName}, nil
}

func (s *Store) readLock(lockName string) (string, error) {
	f, err := s.fs.Open(lockName)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 256)
	n, _ := f.Read(buf)
	return string(trimNewline(buf[:n])), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.name == "" {
		return nil
	}
	err := l.s.fs.Remove(l.name)
	l.name = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
