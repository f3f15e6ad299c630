package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metaform/metaform-management/pkg/ports"
)

// DefaultLockPath is used when no lock file is configured.
var DefaultLockPath = filepath.Join(os.TempDir(), "metaform-management.lock")

// Locker implements ports.MigrationLocker with an exclusively created lock file.
// Processes that find the file present poll until it is gone.
type Locker struct {
	path     string
	interval time.Duration
}

// NewLocker creates a file locker. A zero interval defaults to 300ms.
func NewLocker(path string, interval time.Duration) *Locker {
	if path == "" {
		path = DefaultLockPath
	}
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Locker{path: path, interval: interval}
}

// Path returns the lock file location.
func (l *Locker) Path() string {
	return l.path
}

// TryLock creates the lock file, failing softly if it already exists.
func (l *Locker) TryLock(ctx context.Context) (ports.UnlockFunc, bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return nil, false, fmt.Errorf("failed to close lock file: %w", err)
	}

	return func(ctx context.Context) error {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}, true, nil
}

// Wait polls until the lock file disappears or ctx is done.
func (l *Locker) Wait(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(l.path); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat lock file: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
