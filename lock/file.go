package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultRetryDelay is the polling interval used while waiting for a lock.
const DefaultRetryDelay = 50 * time.Millisecond

// FileLock is a cross-process QueryLock backed by a lock file.
type FileLock struct {
	path       string
	retryDelay time.Duration

	mu     sync.Mutex
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock on path. The parent directory is created on Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:       path,
		retryDelay: DefaultRetryDelay,
		flock:      flock.New(path),
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Lock acquires the lock, polling until ctx ends.
func (l *FileLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, l.retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s: %w", ErrLockHeld, l.path, err)
		}
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Unlocking an unheld FileLock returns ErrNotLocked.
func (l *FileLock) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return ErrNotLocked
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
