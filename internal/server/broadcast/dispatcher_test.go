package broadcast_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/server/broadcast"
)

type fakeTarget struct {
	id         string
	partitions []string
	inCycle    bool
	delivered  atomic.Int32
}

func (t *fakeTarget) ConnectionID() string         { return t.id }
func (t *fakeTarget) ActivePartitions() []string   { return t.partitions }
func (t *fakeTarget) InSyncCycle() bool            { return t.inCycle }
func (t *fakeTarget) DeliverBroadcast(model.CommittedEvent) bool {
	t.delivered.Add(1)
	return true
}

func TestBroadcast_SkipsOriginCycleAndDisjointPartitions(t *testing.T) {
	reg := broadcast.NewRegistry()

	origin := &fakeTarget{id: "origin", partitions: []string{"room:1"}}
	midCycle := &fakeTarget{id: "mid-cycle", partitions: []string{"room:1"}, inCycle: true}
	disjoint := &fakeTarget{id: "disjoint", partitions: []string{"room:9"}}
	receiver := &fakeTarget{id: "receiver", partitions: []string{"room:1", "room:2"}}

	for _, target := range []*fakeTarget{origin, midCycle, disjoint, receiver} {
		reg.Register(target)
	}
	require.Equal(t, 4, reg.Count())

	delivered := reg.Broadcast(context.Background(), "origin", model.CommittedEvent{
		Partitions: []string{"room:1"},
	})

	require.Equal(t, 1, delivered)
	require.Equal(t, int32(0), origin.delivered.Load())
	require.Equal(t, int32(0), midCycle.delivered.Load())
	require.Equal(t, int32(0), disjoint.delivered.Load())
	require.Equal(t, int32(1), receiver.delivered.Load())
}

func TestUnregister_RemovesFromCount(t *testing.T) {
	reg := broadcast.NewRegistry()
	reg.Register(&fakeTarget{id: "a"})
	require.Equal(t, 1, reg.Count())

	reg.Unregister("a")
	require.Equal(t, 0, reg.Count())
}
