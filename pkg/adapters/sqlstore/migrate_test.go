package sqlstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/metaform/metaform-management/pkg/adapters/sqlstore"
	"github.com/metaform/metaform-management/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocker is a process-local MigrationLocker.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	released chan struct{}
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{released: make(chan struct{})}
}

func (l *fakeLocker) TryLock(ctx context.Context) (ports.UnlockFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		close(l.released)
		return nil
	}, true, nil
}

func (l *fakeLocker) Wait(ctx context.Context) error {
	select {
	case <-l.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.SQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer store.Close()

	applied, err := store.Migrate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"00_socket_data"}, applied)

	applied, err = store.Migrate(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrate_LockHolderMigratesAndReleases(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.SQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer store.Close()

	locker := newFakeLocker()
	applied, err := store.Migrate(ctx, locker)
	require.NoError(t, err)
	assert.Equal(t, []string{"00_socket_data"}, applied)

	_, ok, err := locker.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after migrating")
}

func TestMigrate_WaiterDoesNotMigrate(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.SQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer store.Close()

	locker := newFakeLocker()
	unlock, ok, err := locker.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = unlock(ctx)
	}()

	applied, err := store.Migrate(ctx, locker)
	require.NoError(t, err)
	assert.Empty(t, applied, "waiting process must not run migrations")
}

func TestMigrate_WaitHonoursContext(t *testing.T) {
	store, err := sqlstore.Open(context.Background(), sqlstore.SQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer store.Close()

	locker := newFakeLocker()
	_, _, _ = locker.TryLock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = store.Migrate(ctx, locker)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
