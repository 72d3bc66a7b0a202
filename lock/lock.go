package lock

import (
	"context"
	"errors"
)

// ErrLockHeld is returned when a lock could not be acquired before the
// context ended because another owner holds it.
var ErrLockHeld = errors.New("lock held by another owner")

// ErrNotLocked is returned by Unlock when the caller does not hold the lock.
var ErrNotLocked = errors.New("lock not held")

// QueryLock serializes population of one ivarator cache directory.
type QueryLock interface {
	// Lock blocks until the lock is acquired or ctx ends.
	Lock(ctx context.Context) error
	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Noop is a QueryLock that never blocks.
type Noop struct{}

func (Noop) Lock(context.Context) error   { return nil }
func (Noop) Unlock(context.Context) error { return nil }

// Exclusive reports whether holding l excludes every other holder.
// Noop and nil locks are not exclusive.
func Exclusive(l QueryLock) bool {
	switch l.(type) {
	case nil, Noop, *Noop:
		return false
	}
	return true
}
