package memsync_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/store/memsync"
	"github.com/webitel/sync-engine/internal/wire"
)

func TestCommitOrGetExisting_FirstSightCommits(t *testing.T) {
	s := memsync.New()
	ctx := context.Background()

	res, err := s.CommitOrGetExisting(ctx, syncstore.CommitRequest{
		ID:         "ev-1",
		ClientID:   "c1",
		Partitions: []string{"room:1"},
		Event:      json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	require.False(t, res.Deduped)
	require.Equal(t, uint64(1), res.CommittedEvent.CommittedID)
}

func TestCommitOrGetExisting_SameIDSamePayloadDedupes(t *testing.T) {
	s := memsync.New()
	ctx := context.Background()
	req := syncstore.CommitRequest{
		ID:         "ev-1",
		ClientID:   "c1",
		Partitions: []string{"room:1"},
		Event:      json.RawMessage(`{"x":1}`),
	}

	first, err := s.CommitOrGetExisting(ctx, req)
	require.NoError(t, err)

	second, err := s.CommitOrGetExisting(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Deduped)
	require.Equal(t, first.CommittedEvent.CommittedID, second.CommittedEvent.CommittedID)
}

func TestCommitOrGetExisting_SameIDDifferentPayloadRejected(t *testing.T) {
	s := memsync.New()
	ctx := context.Background()

	_, err := s.CommitOrGetExisting(ctx, syncstore.CommitRequest{
		ID:         "ev-1",
		Partitions: []string{"room:1"},
		Event:      json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)

	_, err = s.CommitOrGetExisting(ctx, syncstore.CommitRequest{
		ID:         "ev-1",
		Partitions: []string{"room:1"},
		Event:      json.RawMessage(`{"x":2}`),
	})
	require.Error(t, err)
	var werr *wire.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, wire.CodeValidationFailed, werr.Code)
}

func TestListCommittedSince_FiltersByPartitionAndPages(t *testing.T) {
	s := memsync.New()
	ctx := context.Background()

	for i, part := range []string{"room:1", "room:2", "room:1"} {
		_, err := s.CommitOrGetExisting(ctx, syncstore.CommitRequest{
			ID:         idFor(i),
			Partitions: []string{part},
			Event:      json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}

	res, err := s.ListCommittedSince(ctx, syncstore.ListRequest{
		Partitions: []string{"room:1"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.False(t, res.HasMore)

	paged, err := s.ListCommittedSince(ctx, syncstore.ListRequest{
		Partitions: []string{"room:1", "room:2"},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, paged.Events, 1)
	require.True(t, paged.HasMore)
}

func TestMaxCommittedID_EmptyStore(t *testing.T) {
	s := memsync.New()
	max, err := s.MaxCommittedID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), max)
}

func idFor(i int) string {
	return []string{"ev-a", "ev-b", "ev-c"}[i]
}
