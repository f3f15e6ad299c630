package ports

import (
	"context"
)

// UnlockFunc is a function that releases a migration lock.
type UnlockFunc func(ctx context.Context) error

// MigrationLocker provides startup-time mutual exclusion between processes that share a database.
type MigrationLocker interface {
	// TryLock attempts to take the lock without waiting.
	// It reports false (and a nil UnlockFunc) when another process holds it.
	TryLock(ctx context.Context) (UnlockFunc, bool, error)

	// Wait blocks until the lock is released by its holder or ctx is done.
	Wait(ctx context.Context) error
}
