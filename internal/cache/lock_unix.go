//go:build unix

package cache

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockName = ".lock"

// writeLocked stages data in a temp file and renames it over path while
// holding an exclusive flock on the directory lock file. Readers see either
// the previous entry or the complete new one.
func writeLocked(path string, data []byte) error {
	dir := filepath.Dir(path)
	lock, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	return replaceFile(path, data)
}

// readLocked reads the file while holding a shared flock.
func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return io.ReadAll(f)
}
