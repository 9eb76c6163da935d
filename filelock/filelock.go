// Package filelock implements cross-process mutual exclusion via an
// atomic create-or-fail lock file. Unlike the advisory flock() the
// teacher's storage package used per platform, an O_EXCL create needs no
// platform-specific build, which is why this package is a single file
// instead of a unix/windows/js split: the primitive itself is portable.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Felmond13/raptor/raptorerr"
)

// retryInterval is how long Acquire sleeps between create attempts
// while the lock file already exists.
const retryInterval = 100 * time.Millisecond

// FileLock serializes writers across processes using a lock file at
// path. It is not itself safe for concurrent use from multiple
// goroutines; callers serialize acquisition with the write mutex.
type FileLock struct {
	path     string
	acquired bool
}

// New returns a FileLock for path. It does not touch the filesystem.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire attempts an atomic create-and-open-exclusive of the lock file.
// On success it writes the current process ID followed by a newline and
// closes the descriptor. If the file already exists, it retries every
// retryInterval until timeout elapses, then returns
// raptorerr.ErrDatabaseLocked. Permission and read-only-filesystem
// errors fail immediately with raptorerr.ErrLockPermission — there is no
// point retrying those.
func (l *FileLock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", os.Getpid())
			closeErr := f.Close()
			if writeErr != nil {
				return fmt.Errorf("filelock: write pid: %w", writeErr)
			}
			if closeErr != nil {
				return fmt.Errorf("filelock: close: %w", closeErr)
			}
			l.acquired = true
			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %v", raptorerr.ErrLockPermission, err)
		}

		if time.Now().After(deadline) {
			return raptorerr.ErrDatabaseLocked
		}
		time.Sleep(retryInterval)
	}
}

// Release removes the lock file. It is idempotent: releasing a lock
// that was never acquired, or that has already been released, is a
// no-op.
func (l *FileLock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: release: %w", err)
	}
	return nil
}

// Acquired reports whether this lock is currently held.
func (l *FileLock) Acquired() bool {
	return l.acquired
}
