package runtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/client/runtime"
	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/store/memclient"
	"github.com/webitel/sync-engine/internal/wire"
)

// fakeTransport is an in-process stand-in for transport.Transport: Send
// records envelopes, Connect/Disconnect are counted, and deliver/drop let
// the test drive the runtime's inbound and disconnect handlers directly.
type fakeTransport struct {
	mu sync.Mutex

	connectErr      error
	sent            []*wire.Envelope
	connectCount    int
	disconnectCount int

	inbound    func(*wire.Envelope)
	disconnect func(error)
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	return f.connectErr
}

func (f *fakeTransport) Send(ctx context.Context, env *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCount++
}

func (f *fakeTransport) SetInboundHandler(h func(*wire.Envelope)) { f.inbound = h }
func (f *fakeTransport) SetDisconnectHandler(h func(error))       { f.disconnect = h }

func (f *fakeTransport) deliver(env *wire.Envelope) {
	f.mu.Lock()
	h := f.inbound
	f.mu.Unlock()
	h(env)
}

func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	h := f.disconnect
	f.mu.Unlock()
	h(err)
}

func (f *fakeTransport) last() *wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount
}

func newRuntime(t *testing.T, tr *fakeTransport, store *memclient.Store) *runtime.Runtime {
	t.Helper()
	r := runtime.New(runtime.Deps{
		Store:     store,
		Transport: tr,
		ClientID:  "alice",
		Token:     "alice",
		SyncLimit: 500,
	}, []string{"room:1"})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

// countingView records how many times Reduce fired per partition, so a
// test can tell whether a committed row's Partitions field actually
// carried real partitions through to view maintenance.
type countingView struct {
	mu   sync.Mutex
	hits map[string]int
}

func newCountingView() *countingView { return &countingView{hits: make(map[string]int)} }

func (v *countingView) Name() string    { return "counts" }
func (v *countingView) Version() string { return "v1" }
func (v *countingView) Init() any       { return 0 }
func (v *countingView) Reduce(state any, _ model.CommittedEvent, partition string) any {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hits[partition]++
	return state.(int) + 1
}

func TestStart_SendsConnectImmediately(t *testing.T) {
	tr := &fakeTransport{}
	newRuntime(t, tr, memclient.New())

	eventually(t, func() bool { return tr.count() == 1 })
	require.Equal(t, wire.TypeConnect, tr.last().Type)
}

func TestHandshake_ConnectedTriggersSync(t *testing.T) {
	tr := &fakeTransport{}
	newRuntime(t, tr, memclient.New())
	eventually(t, func() bool { return tr.count() == 1 })

	env, err := wire.Encode(wire.TypeConnected, "", wire.ConnectedPayload{ClientID: "alice", ServerLastCommittedID: 5})
	require.NoError(t, err)
	tr.deliver(env)

	eventually(t, func() bool { return tr.count() == 2 })
	require.Equal(t, wire.TypeSync, tr.last().Type)
	var payload wire.SyncPayload
	require.NoError(t, tr.last().DecodePayload(&payload))
	require.Equal(t, uint64(0), payload.SinceCommittedID)
}

func TestSyncResponse_AppliesCommittedBatchAndAdvancesCursor(t *testing.T) {
	tr := &fakeTransport{}
	store := memclient.New()
	newRuntime(t, tr, store)
	eventually(t, func() bool { return tr.count() == 1 })

	connected, _ := wire.Encode(wire.TypeConnected, "", wire.ConnectedPayload{ClientID: "alice"})
	tr.deliver(connected)
	eventually(t, func() bool { return tr.count() == 2 })

	resp, err := wire.Encode(wire.TypeSyncResponse, "", wire.SyncResponsePayload{
		Partitions: []string{"room:1"},
		Events: []wire.WireCommittedEvent{
			{ID: "ev-1", ClientID: "bob", Partitions: []string{"room:1"}, CommittedID: 3, Event: json.RawMessage(`{"x":1}`)},
		},
		NextSinceCommittedID: 3,
		HasMore:              false,
	})
	require.NoError(t, err)
	tr.deliver(resp)

	eventually(t, func() bool {
		cur, err := store.LoadCursor(context.Background())
		return err == nil && cur == 3
	})
}

func TestSubmitDraft_DrainsImmediatelyWhenNoSyncCycleActive(t *testing.T) {
	tr := &fakeTransport{}
	store := memclient.New()
	r := newRuntime(t, tr, store)
	eventually(t, func() bool { return tr.count() == 1 })

	connected, _ := wire.Encode(wire.TypeConnected, "", wire.ConnectedPayload{ClientID: "alice"})
	tr.deliver(connected)
	eventually(t, func() bool { return tr.count() == 2 })

	resp, _ := wire.Encode(wire.TypeSyncResponse, "", wire.SyncResponsePayload{NextSinceCommittedID: 0, HasMore: false})
	tr.deliver(resp) // end-of-cycle drainDrafts no-ops: no drafts queued yet

	r.SubmitDraft(context.Background(), "draft-1", []string{"room:1"}, json.RawMessage(`{"y":2}`))

	eventually(t, func() bool { return tr.count() == 3 })
	require.Equal(t, wire.TypeSubmitEvents, tr.last().Type)
	var payload wire.SubmitEventsPayload
	require.NoError(t, tr.last().DecodePayload(&payload))
	require.Len(t, payload.Events, 1)
	require.Equal(t, "draft-1", payload.Events[0].ID)
}

// TestSubmitResult_CommittedRowCarriesRealPartitionsAndEvent is the
// regression test for the defect where a self-submitted commit was
// persisted locally with an empty partition set and event body, because
// submit_events_result never echoes them back over the wire: view
// reducers must fire for every partition the draft actually named.
func TestSubmitResult_CommittedRowCarriesRealPartitionsAndEvent(t *testing.T) {
	tr := &fakeTransport{}
	store := memclient.New()
	r := newRuntime(t, tr, store)
	eventually(t, func() bool { return tr.count() == 1 })

	view := newCountingView()
	require.NoError(t, store.RegisterView(context.Background(), view))

	connected, _ := wire.Encode(wire.TypeConnected, "", wire.ConnectedPayload{ClientID: "alice"})
	tr.deliver(connected)
	eventually(t, func() bool { return tr.count() == 2 })

	resp, _ := wire.Encode(wire.TypeSyncResponse, "", wire.SyncResponsePayload{NextSinceCommittedID: 0, HasMore: false})
	tr.deliver(resp)

	r.SubmitDraft(context.Background(), "draft-1", []string{"room:1", "room:2"}, json.RawMessage(`{"y":2}`))
	eventually(t, func() bool { return tr.count() == 3 })

	result, _ := wire.Encode(wire.TypeSubmitEventsResult, "", wire.SubmitEventsResultPayload{
		Results: []wire.SubmitResultWireEntry{{ID: "draft-1", Status: "committed", CommittedID: 7, StatusUpdatedAt: 123}},
	})
	tr.deliver(result)

	eventually(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return view.hits["room:1"] == 1 && view.hits["room:2"] == 1
	})

	// A later replay of the authoritative copy of the same id (e.g. via
	// broadcast or sync) must dedupe by committed_id rather than be
	// treated as a fresh row with different partitions.
	err := store.ApplyCommittedBatch(context.Background(), clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{
			ID: "draft-1", ClientID: "alice", Partitions: []string{"room:1", "room:2"},
			CommittedID: 7, Event: json.RawMessage(`{"y":2}`),
		}},
	})
	require.NoError(t, err)

	view.mu.Lock()
	defer view.mu.Unlock()
	require.Equal(t, 1, view.hits["room:1"])
	require.Equal(t, 1, view.hits["room:2"])
}

func TestBroadcast_AppliesSingleEventWithoutCursorAdvance(t *testing.T) {
	tr := &fakeTransport{}
	store := memclient.New()
	newRuntime(t, tr, store)
	eventually(t, func() bool { return tr.count() == 1 })

	connected, _ := wire.Encode(wire.TypeConnected, "", wire.ConnectedPayload{ClientID: "alice"})
	tr.deliver(connected)
	eventually(t, func() bool { return tr.count() == 2 })

	resp, _ := wire.Encode(wire.TypeSyncResponse, "", wire.SyncResponsePayload{NextSinceCommittedID: 0, HasMore: false})
	tr.deliver(resp)

	broadcast, _ := wire.Encode(wire.TypeEventBroadcast, "", wire.EventBroadcastPayload{
		ID: "ev-2", ClientID: "bob", Partitions: []string{"room:1"}, CommittedID: 9, Event: json.RawMessage(`{"z":3}`),
	})
	tr.deliver(broadcast)

	eventually(t, func() bool {
		_, err := store.LoadCursor(context.Background())
		return err == nil
	})
	cur, err := store.LoadCursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), cur) // broadcast never carries a cursor advance
}

func TestDisconnect_SchedulesReconnectAndRetriesConnect(t *testing.T) {
	tr := &fakeTransport{}
	r := runtime.New(runtime.Deps{
		Store:     memclient.New(),
		Transport: tr,
		ClientID:  "alice",
		Token:     "alice",
		Reconnect: runtime.ReconnectConfig{
			Enabled:      true,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Factor:       1,
		},
	}, nil)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	eventually(t, func() bool { return tr.connects() == 1 })

	tr.drop(context.DeadlineExceeded)

	eventually(t, func() bool { return tr.connects() == 2 })
}

func TestDisconnect_CleanShutdownDoesNotReconnect(t *testing.T) {
	tr := &fakeTransport{}
	r := runtime.New(runtime.Deps{
		Store:     memclient.New(),
		Transport: tr,
		ClientID:  "alice",
		Token:     "alice",
		Reconnect: runtime.ReconnectConfig{Enabled: true, InitialDelay: time.Millisecond},
	}, nil)
	require.NoError(t, r.Start(context.Background()))
	eventually(t, func() bool { return tr.connects() == 1 })

	tr.drop(nil)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, tr.connects())
	r.Stop()
}
