package memclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/store/memclient"
)

// countView counts events reduced per partition, for exercising
// RegisterView's rebuild-from-log path.
type countView struct{ version string }

func (countView) Name() string    { return "count" }
func (v countView) Version() string { return v.version }
func (countView) Init() any       { return 0 }
func (countView) Reduce(state any, _ model.CommittedEvent, _ string) any {
	return state.(int) + 1
}

func TestInsertDraft_AssignsIncreasingDraftClock(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()

	require.NoError(t, s.InsertDraft(ctx, model.Draft{ID: "d1"}))
	require.NoError(t, s.InsertDraft(ctx, model.Draft{ID: "d2"}))

	drafts, err := s.LoadDraftsOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	require.Less(t, drafts[0].DraftClock, drafts[1].DraftClock)
}

func TestInsertDraft_RejectsDuplicateID(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()
	require.NoError(t, s.InsertDraft(ctx, model.Draft{ID: "d1"}))
	require.Error(t, s.InsertDraft(ctx, model.Draft{ID: "d1"}))
}

func TestApplySubmitResult_CommittedRemovesDraftAndFeedsViews(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()
	require.NoError(t, s.RegisterView(ctx, countView{version: "v1"}))
	require.NoError(t, s.InsertDraft(ctx, model.Draft{ID: "d1", Partitions: []string{"p1"}}))

	ev := model.CommittedEvent{ID: "d1", Partitions: []string{"p1"}, CommittedID: 1}
	err := s.ApplySubmitResult(ctx, clientstore.SubmitResultApplication{
		Result: model.SubmitResultEntry{ID: "d1", Status: model.StatusCommitted, CommittedID: 1},
		Event:  &ev,
	})
	require.NoError(t, err)

	drafts, _ := s.LoadDraftsOrdered(ctx)
	require.Empty(t, drafts)

	v, err := s.LoadMaterializedView(ctx, "count", "p1")
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestApplySubmitResult_RejectedOnlyRemovesDraft(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()
	require.NoError(t, s.InsertDraft(ctx, model.Draft{ID: "d1"}))

	err := s.ApplySubmitResult(ctx, clientstore.SubmitResultApplication{
		Result: model.SubmitResultEntry{ID: "d1", Status: model.StatusRejected},
	})
	require.NoError(t, err)

	drafts, _ := s.LoadDraftsOrdered(ctx)
	require.Empty(t, drafts)
}

func TestApplyCommittedBatch_AdvancesCursorAndDedupesByID(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()

	cursor := uint64(5)
	err := s.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events:     []model.CommittedEvent{{ID: "e1", Partitions: []string{"p1"}, CommittedID: 5}},
		NextCursor: &cursor,
	})
	require.NoError(t, err)

	got, err := s.LoadCursor(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got)

	// Re-applying the same event is a no-op, not an error.
	err = s.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e1", Partitions: []string{"p1"}, CommittedID: 5}},
	})
	require.NoError(t, err)
}

func TestApplyCommittedBatch_ConflictingCommittedIDIsFatal(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()

	require.NoError(t, s.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e1", Partitions: []string{"p1"}, CommittedID: 5}},
	}))

	err := s.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{{ID: "e1", Partitions: []string{"p1"}, CommittedID: 6}},
	})
	require.Error(t, err)
}

func TestRegisterView_RebuildsFromExistingLogOnVersionChange(t *testing.T) {
	s := memclient.New()
	ctx := context.Background()
	require.NoError(t, s.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{
		Events: []model.CommittedEvent{
			{ID: "e1", Partitions: []string{"p1"}, CommittedID: 1},
			{ID: "e2", Partitions: []string{"p1"}, CommittedID: 2},
		},
	}))

	require.NoError(t, s.RegisterView(ctx, countView{version: "v1"}))
	v, err := s.LoadMaterializedView(ctx, "count", "p1")
	require.NoError(t, err)
	require.Equal(t, 2, v)

	// Re-registering with the same version must not rebuild (idempotent).
	require.NoError(t, s.RegisterView(ctx, countView{version: "v1"}))
	v, err = s.LoadMaterializedView(ctx, "count", "p1")
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestLoadMaterializedView_UnknownViewErrors(t *testing.T) {
	s := memclient.New()
	_, err := s.LoadMaterializedView(context.Background(), "nope", "p1")
	require.Error(t, err)
}
