package file_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metaform/metaform-management/pkg/adapters/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.lock")
	l1 := file.NewLocker(path, 10*time.Millisecond)
	l2 := file.NewLocker(path, 10*time.Millisecond)
	ctx := context.Background()

	unlock, ok, err := l1.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.FileExists(t, path)

	_, ok, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	assert.NoFileExists(t, path)

	unlock2, ok, err := l2.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock2(ctx))
}

func TestFileLocker_WaitPollsUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.lock")
	holder := file.NewLocker(path, 10*time.Millisecond)
	waiter := file.NewLocker(path, 10*time.Millisecond)
	ctx := context.Background()

	unlock, ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waiter.Wait(short), context.DeadlineExceeded)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = unlock(ctx)
	}()

	long, cancelLong := context.WithTimeout(ctx, 2*time.Second)
	defer cancelLong()
	assert.NoError(t, waiter.Wait(long))
}

func TestFileLocker_Defaults(t *testing.T) {
	l := file.NewLocker("", 0)
	assert.Equal(t, file.DefaultLockPath, l.Path())
}
