package presence_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/metaform/metaform-management/pkg/adapters/memory"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/presence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*presence.Coordinator, *flakyStore, *recordingTransport) {
	t.Helper()
	store := newFlakyStore()
	transport := &recordingTransport{}
	return presence.NewCoordinator(store, transport), store, transport
}

func openReplies(t *testing.T, store *flakyStore, id string) []string {
	t.Helper()
	state, err := store.Store.Get(context.Background(), id)
	require.NoError(t, err)
	return state.OpenReplies
}

func TestConnect_RegistersEmptyState(t *testing.T) {
	c, store, transport := setup(t)
	c.Connect(context.Background(), "A")

	assert.Empty(t, openReplies(t, store, "A"))
	assert.True(t, c.Alive("A"))
	assert.Empty(t, transport.unicasts("A"), "first client has nothing to catch up on")
}

func TestScenario1_CatchUp(t *testing.T) {
	c, _, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	c.Connect(ctx, "B")

	assert.Equal(t, []domain.Notification{domain.Locked("rep1")}, transport.unicasts("B"))
}

func TestCatchUp_OnePerHolderWithoutDedup(t *testing.T) {
	c, _, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	c.Connect(ctx, "B")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Opened(ctx, "A", "rep2"))
	require.NoError(t, c.Opened(ctx, "B", "rep1"))
	c.Connect(ctx, "C")

	assert.ElementsMatch(t, []domain.Notification{
		domain.Locked("rep1"),
		domain.Locked("rep2"),
		domain.Locked("rep1"),
	}, transport.unicasts("C"))
}

func TestCatchUp_ListFailureDegradesGracefully(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))

	store.fail(false, false, true, false)
	c.Connect(ctx, "B")

	assert.Empty(t, transport.unicasts("B"))
	assert.True(t, c.Alive("B"), "connection must not fail")
	assert.Empty(t, openReplies(t, store, "B"))
}

func TestCatchUp_StopsAtFirstFailedSend(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Opened(ctx, "A", "rep2"))
	require.NoError(t, c.Opened(ctx, "A", "rep3"))

	transport.sendErr = errors.New("connection closed")
	c.Connect(ctx, "B")

	assert.Len(t, transport.unicasts("B"), 1, "no further sends after the first failure")
	assert.True(t, c.Alive("B"))
	assert.Empty(t, openReplies(t, store, "B"))
}

func TestOpen_IdempotentStateButRepeatedBroadcast(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Opened(ctx, "A", "rep1"))

	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "A"))
	assert.Equal(t, []domain.Notification{domain.Locked("rep1"), domain.Locked("rep1")}, transport.broadcasts())
}

func TestClose_BroadcastsEvenWhenNotOpen(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Closed(ctx, "A", "rep9"))

	assert.Equal(t, []domain.Notification{domain.Unlocked("rep9")}, transport.broadcasts())
	assert.Empty(t, openReplies(t, store, "A"))
}

func TestScenario2_UnlockIsNotReferenceCounted(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	c.Connect(ctx, "B")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Opened(ctx, "B", "rep1"))
	transport.reset()

	require.NoError(t, c.Closed(ctx, "A", "rep1"))

	assert.Equal(t, []domain.Notification{domain.Unlocked("rep1")}, transport.broadcasts())
	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "B"), "B still holds rep1")
	assert.Empty(t, openReplies(t, store, "A"))
}

func TestScenario3_DisconnectCleanup(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Opened(ctx, "A", "rep2"))
	transport.reset()

	c.Disconnect(ctx, "A")

	assert.ElementsMatch(t, []domain.Notification{domain.Unlocked("rep1"), domain.Unlocked("rep2")}, transport.broadcasts())
	_, err := store.Store.Get(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
	assert.False(t, c.Alive("A"))
}

func TestScenario4_SetFailureSuppressesBroadcast(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	transport.reset()

	store.fail(false, true, false, false)
	err := c.Opened(ctx, "A", "rep2")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.Empty(t, transport.broadcasts())
	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "A"))

	// Transient: the next attempt succeeds.
	store.fail(false, false, false, false)
	require.NoError(t, c.Opened(ctx, "A", "rep2"))
	assert.Equal(t, []string{"rep1", "rep2"}, openReplies(t, store, "A"))
}

func TestClose_SetFailureSuppressesBroadcast(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	transport.reset()

	store.fail(false, true, false, false)
	assert.Error(t, c.Closed(ctx, "A", "rep1"))
	assert.Empty(t, transport.broadcasts())
	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "A"))
}

func TestOpen_GetFailureSuppressesBroadcast(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	store.fail(true, false, false, false)

	assert.ErrorIs(t, c.Opened(ctx, "A", "rep1"), domain.ErrStoreUnavailable)
	assert.Empty(t, transport.broadcasts())
}

func TestOpen_RecoversWhenConnectRegistrationFailed(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	store.fail(false, true, false, false)
	c.Connect(ctx, "A")
	store.fail(false, false, false, false)

	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "A"))
	assert.Equal(t, []domain.Notification{domain.Locked("rep1")}, transport.broadcasts())
}

func TestDisconnect_StoreFailureStillCompletes(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	transport.reset()

	store.fail(true, false, false, false)
	c.Disconnect(ctx, "A")

	assert.Empty(t, transport.broadcasts(), "state unknown, nothing to unlock")
	assert.False(t, c.Alive("A"))
	_, err := store.Store.Get(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrStateNotFound, "remove is still attempted")
}

func TestEventsAfterDisconnectAreDropped(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	c.Disconnect(ctx, "A")
	transport.reset()

	assert.ErrorIs(t, c.Opened(ctx, "A", "rep1"), presence.ErrNotActive)
	assert.ErrorIs(t, c.Closed(ctx, "A", "rep1"), presence.ErrNotActive)
	assert.Empty(t, transport.broadcasts())

	_, err := store.Store.Get(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrStateNotFound, "no state may be resurrected")

	// A second disconnect is a no-op.
	c.Disconnect(ctx, "A")
	assert.Empty(t, transport.broadcasts())
}

func TestNoCrossConnectionInterference(t *testing.T) {
	c, store, _ := setup(t)
	ctx := context.Background()

	c.Connect(ctx, "A")
	c.Connect(ctx, "B")
	require.NoError(t, c.Opened(ctx, "B", "rep2"))

	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	require.NoError(t, c.Closed(ctx, "A", "rep2"))
	c.Disconnect(ctx, "A")

	assert.Equal(t, []string{"rep2"}, openReplies(t, store, "B"))
}

func TestHandleEvent(t *testing.T) {
	c, store, transport := setup(t)
	ctx := context.Background()
	c.Connect(ctx, "A")

	raw := func(v string) json.RawMessage { return json.RawMessage(v) }

	c.HandleEvent(ctx, "A", domain.InboundEvent{Name: domain.EventReplyOpened, Data: raw(`{"replyId":"rep1"}`)})
	c.HandleEvent(ctx, "A", domain.InboundEvent{Name: domain.EventReplyOpened, Data: raw(`{}`)})
	c.HandleEvent(ctx, "A", domain.InboundEvent{Name: domain.EventReplyClosed})
	c.HandleEvent(ctx, "A", domain.InboundEvent{Name: "reply:deleted", Data: raw(`{"replyId":"rep1"}`)})

	assert.Equal(t, []domain.Notification{domain.Locked("rep1")}, transport.broadcasts())
	assert.Equal(t, []string{"rep1"}, openReplies(t, store, "A"))

	c.HandleEvent(ctx, "A", domain.InboundEvent{Name: domain.EventReplyClosed, Data: raw(`{"replyId":"rep1"}`)})
	assert.Empty(t, openReplies(t, store, "A"))
}

func TestConcurrentConnections(t *testing.T) {
	store := memory.NewStore()
	transport := &recordingTransport{}
	c := presence.NewCoordinator(store, transport)
	ctx := context.Background()

	const conns, replies = 20, 10
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sock-%d", i)
			c.Connect(ctx, id)
			for r := 0; r < replies; r++ {
				assert.NoError(t, c.Opened(ctx, id, fmt.Sprintf("%s-rep%d", id, r)))
			}
		}(i)
	}
	wg.Wait()

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, conns)
	for _, e := range entries {
		assert.Len(t, e.State.OpenReplies, replies, "lost update on %s", e.SocketID)
	}
	assert.Equal(t, conns, c.ActiveCount())
}

func TestSameConnectionEventsAreSerialized(t *testing.T) {
	store := memory.NewStore()
	c := presence.NewCoordinator(store, &recordingTransport{})
	ctx := context.Background()
	c.Connect(ctx, "A")

	// Even if a transport delivered events concurrently, read-modify-write must not lose updates.
	var wg sync.WaitGroup
	for r := 0; r < 50; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			_ = c.Opened(ctx, "A", fmt.Sprintf("rep%d", r))
		}(r)
	}
	wg.Wait()

	state, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, state.OpenReplies, 50)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := presence.NewMetrics(reg)
	store := newFlakyStore()
	c := presence.NewCoordinator(store, &recordingTransport{}, presence.WithMetrics(metrics))
	ctx := context.Background()

	c.Connect(ctx, "A")
	c.Connect(ctx, "B")
	require.NoError(t, c.Opened(ctx, "A", "rep1"))
	store.fail(false, true, false, false)
	_ = c.Opened(ctx, "A", "rep2")
	store.fail(false, false, false, false)
	c.Disconnect(ctx, "B")

	count, err := testutil.GatherAndCount(reg, "metaform_presence_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "ok and store_error series")

	families, err := reg.Gather()
	require.NoError(t, err)
	var gauge float64
	for _, f := range families {
		if f.GetName() == "metaform_presence_connections" {
			gauge = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), gauge)
}
