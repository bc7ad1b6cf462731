package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

const partialSuffix = ".partial"

// Copy duplicates the generation file src as dst, byte for byte. It refuses
// when dst exists, when src has a pending -wal file, or when the disk cannot
// hold another copy. src is only ever opened for reading; on failure the
// partial copy is removed and dst does not exist.
func (s *Store) Copy(src, dst string) error {
	if s.HasFile(dst) {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := s.CheckClean(src); err != nil {
		return err
	}

	stats, err := s.Stat(src)
	if err != nil {
		return err
	}
	if err := s.checkFreeSpace(uint64(stats.SizeBytes)); err != nil {
		return err
	}

	tmp := dst + partialSuffix
	if err := s.copyFile(src, tmp); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	copied, err := s.Stat(tmp)
	if err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if copied.SizeBytes != stats.SizeBytes {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("short copy of %s: wrote %d of %d bytes", src, copied.SizeBytes, stats.SizeBytes)
	}

	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, dst, err)
	}

	slog.Info("generation copied", "src", src, "dst", dst, "bytes", stats.SizeBytes)
	return nil
}

func (s *Store) copyFile(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// checkFreeSpace wants room for need bytes plus the same again for the
// journal the migration will write.
func (s *Store) checkFreeSpace(need uint64) error {
	usage, err := disk.Usage(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage of %s: %w", s.dir, err)
	}
	if usage.Free < 2*need {
		return fmt.Errorf("%w: %d bytes free in %s, need %d", ErrNoSpace, usage.Free, s.dir, 2*need)
	}
	return nil
}
