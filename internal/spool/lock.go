package spool

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockFileName is the advisory single-instance lock, held for the life of
// the process so a second `lb3d run` against the same spool directory
// fails fast instead of interleaving writes into the same segments.
const lockFileName = ".lock"

// Lock is a held advisory lock on a spool directory. Unlock releases it;
// the lock is also released automatically if the process exits.
type Lock struct {
	f *os.File
}

// AcquireLock takes a non-blocking exclusive flock on dir's lock file.
// It returns an error immediately if another process already holds it,
// rather than blocking — a second daemon instance should fail fast, not
// queue up behind the first.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create spool dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("spool: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("spool: directory %s is already locked by another process: %w", dir, err)
	}
	return &Lock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file.
func (l *Lock) Unlock() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("spool: release lock: %w", err)
	}
	return l.f.Close()
}
