package ports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSocketStoreContract runs a suite of tests to verify that a SocketStore implementation
// adheres to the defined interface contract.
func RunSocketStoreContract(t *testing.T, store SocketStore) {
	ctx := context.Background()
	socketID := "contract-socket-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		state := &domain.PresenceState{OpenReplies: []string{"rep1", "rep2"}}

		err := store.Set(ctx, socketID, state)
		require.NoError(t, err, "Set should not return error")

		loaded, err := store.Get(ctx, socketID)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, []string{"rep1", "rep2"}, loaded.OpenReplies)
	})

	t.Run("Set Overwrites", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, socketID, &domain.PresenceState{OpenReplies: []string{"rep1", "rep2"}}))
		require.NoError(t, store.Set(ctx, socketID, &domain.PresenceState{OpenReplies: []string{"rep3"}}))

		loaded, err := store.Get(ctx, socketID)
		require.NoError(t, err)
		assert.Equal(t, []string{"rep3"}, loaded.OpenReplies, "Set must replace, not merge")
	})

	t.Run("Empty State Round Trip", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, socketID, domain.NewPresenceState()))

		loaded, err := store.Get(ctx, socketID)
		require.NoError(t, err)
		assert.Empty(t, loaded.OpenReplies)
	})

	t.Run("Caller Mutation Does Not Leak", func(t *testing.T) {
		state := &domain.PresenceState{OpenReplies: []string{"rep1"}}
		require.NoError(t, store.Set(ctx, socketID, state))
		state.Open("rep2")

		loaded, err := store.Get(ctx, socketID)
		require.NoError(t, err)
		assert.Equal(t, []string{"rep1"}, loaded.OpenReplies)

		loaded.Open("rep3")
		again, err := store.Get(ctx, socketID)
		require.NoError(t, err)
		assert.Equal(t, []string{"rep1"}, again.OpenReplies)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+socketID)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, socketID, domain.NewPresenceState()))

		err := store.Remove(ctx, socketID)
		require.NoError(t, err, "Remove should not return error")

		_, err = store.Get(ctx, socketID)
		assert.ErrorIs(t, err, domain.ErrStateNotFound, "Get after Remove should return ErrStateNotFound")
	})

	t.Run("Remove Is Idempotent", func(t *testing.T) {
		assert.NoError(t, store.Remove(ctx, socketID))
		assert.NoError(t, store.Remove(ctx, "never-existed-"+socketID))
	})

	t.Run("List", func(t *testing.T) {
		id1 := socketID + "-1"
		id2 := socketID + "-2"
		require.NoError(t, store.Set(ctx, id1, &domain.PresenceState{OpenReplies: []string{"rep1"}}))
		require.NoError(t, store.Set(ctx, id2, domain.NewPresenceState()))

		defer func() {
			_ = store.Remove(ctx, id1)
			_ = store.Remove(ctx, id2)
		}()

		entries, err := store.List(ctx)
		require.NoError(t, err)

		byID := make(map[string]*domain.PresenceState, len(entries))
		for _, e := range entries {
			byID[e.SocketID] = e.State
		}
		require.Contains(t, byID, id1)
		require.Contains(t, byID, id2)
		assert.Equal(t, []string{"rep1"}, byID[id1].OpenReplies)
		assert.Empty(t, byID[id2].OpenReplies)

		require.NoError(t, store.Remove(ctx, id1))
		entries, err = store.List(ctx)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotEqual(t, id1, e.SocketID, "removed entry must not be listed")
		}
	})

	t.Run("Concurrent Distinct Keys", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("%s-c%d", socketID, i)
				if err := store.Set(ctx, id, &domain.PresenceState{OpenReplies: []string{id}}); err != nil {
					errs <- err
					return
				}
				got, err := store.Get(ctx, id)
				if err != nil {
					errs <- err
					return
				}
				if len(got.OpenReplies) != 1 || got.OpenReplies[0] != id {
					errs <- errors.New("cross-key interference on " + id)
				}
				errs <- store.Remove(ctx, id)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}
