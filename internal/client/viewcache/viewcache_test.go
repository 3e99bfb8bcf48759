package viewcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/client/viewcache"
	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/store/memclient"
)

type countingView struct{ loads int }

func (v *countingView) Name() string    { return "cv" }
func (*countingView) Version() string   { return "v1" }
func (*countingView) Init() any         { return 0 }
func (*countingView) Reduce(s any, _ model.CommittedEvent, _ string) any { return s.(int) + 1 }

func TestLoadMaterializedView_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	inner := memclient.New()
	require.NoError(t, inner.RegisterView(ctx, &countingView{}))
	require.NoError(t, inner.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e1", Partitions: []string{"p1"}, CommittedID: 1}},
	}))

	cached := viewcache.Wrap(inner, 16)

	v, err := cached.LoadMaterializedView(ctx, "cv", "p1")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// Mutate the inner store directly; the cache should still serve the
	// stale value since nothing went through the wrapper's write path.
	require.NoError(t, inner.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e2", Partitions: []string{"p1"}, CommittedID: 2}},
	}))
	v, err = cached.LoadMaterializedView(ctx, "cv", "p1")
	require.NoError(t, err)
	require.Equal(t, 1, v, "cached read must not see the inner store's uncoordinated write")

	// A write through the wrapper purges the cache.
	require.NoError(t, cached.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e3", Partitions: []string{"p1"}, CommittedID: 3}},
	}))
	v, err = cached.LoadMaterializedView(ctx, "cv", "p1")
	require.NoError(t, err)
	require.Equal(t, 3, v)
}
