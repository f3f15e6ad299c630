package middleware_test

import (
	"context"
	"strings"
	"testing"

	"github.com/metaform/metaform-management/pkg/adapters/memory"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/persistence/middleware"
	"github.com/metaform/metaform-management/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentation_Contract(t *testing.T) {
	store := middleware.Chain(memory.NewStore(),
		middleware.NewInstrumentation("memory", middleware.NewStoreMetrics(nil), nil))
	ports.RunSocketStoreContract(t, store)
}

func TestInstrumentation_RecordsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := middleware.Chain(memory.NewStore(),
		middleware.NewInstrumentation("memory", middleware.NewStoreMetrics(reg), nil))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", domain.NewPresenceState()))
	_, err := store.Get(ctx, "a")
	require.NoError(t, err)
	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrStateNotFound)

	count, err := testutil.GatherAndCount(reg, "metaform_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "set/ok, get/ok and get/not_found series")

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

type tagging struct {
	ports.SocketStore
	tag   string
	calls *[]string
}

func (t tagging) List(ctx context.Context) ([]domain.SocketEntry, error) {
	*t.calls = append(*t.calls, t.tag)
	return t.SocketStore.List(ctx)
}

func TestChain_FirstIsOutermost(t *testing.T) {
	var calls []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.SocketStore) ports.SocketStore {
			return tagging{SocketStore: next, tag: name, calls: &calls}
		}
	}

	store := middleware.Chain(memory.NewStore(), tag("outer"), tag("inner"))
	_, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "outer,inner", strings.Join(calls, ","))
}
