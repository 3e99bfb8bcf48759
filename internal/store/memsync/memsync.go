// Package memsync is an in-memory reference implementation of the sync
// store contract, suitable for tests and single-process deployments. It
// mirrors the locking discipline of a durable implementation: allocation
// and persistence happen inside the same critical section so no caller can
// observe a gap or a non-durable id.
package memsync

import (
	"context"
	"sort"
	"sync"

	"github.com/webitel/sync-engine/internal/domain/allocator"
	"github.com/webitel/sync-engine/internal/domain/canon"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/domain/partition"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/wire"
)

type row struct {
	event model.CommittedEvent
	form  canon.Form
}

// Store is an in-memory syncstore.Store.
type Store struct {
	mu        sync.Mutex
	alloc     *allocator.Allocator
	byID      map[string]*row
	ordered   []*row // ascending by CommittedID, append-only
}

// New returns an empty store.
func New() *Store {
	return &Store{
		alloc: allocator.New(0),
		byID:  make(map[string]*row),
	}
}

func (s *Store) CommitOrGetExisting(ctx context.Context, req syncstore.CommitRequest) (syncstore.CommitResult, error) {
	norm, err := partition.Normalize(req.Partitions)
	if err != nil {
		return syncstore.CommitResult{}, err
	}

	form, err := canon.Of(norm, req.Event)
	if err != nil {
		return syncstore.CommitResult{}, wire.NewValidationError("event", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[req.ID]; ok {
		if existing.form.Equal(form) {
			return syncstore.CommitResult{Deduped: true, CommittedEvent: existing.event}, nil
		}
		return syncstore.CommitResult{}, wire.New(wire.CodeValidationFailed, "id already committed with different payload")
	}

	id := s.alloc.Next()
	ev := model.CommittedEvent{
		ID:              req.ID,
		ClientID:        req.ClientID,
		Partitions:      norm,
		CommittedID:     id,
		Event:           append([]byte(nil), req.Event...),
		StatusUpdatedAt: req.Now,
	}
	r := &row{event: ev, form: form}
	s.byID[req.ID] = r
	s.ordered = append(s.ordered, r)

	return syncstore.CommitResult{Deduped: false, CommittedEvent: ev}, nil
}

func (s *Store) ListCommittedSince(ctx context.Context, req syncstore.ListRequest) (syncstore.ListResult, error) {
	wantPartitions, err := partition.Normalize(req.Partitions)
	if err != nil {
		return syncstore.ListResult{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// s.ordered is append-only and already ascending by CommittedID since
	// the allocator only ever grows; a binary search finds the first
	// candidate cheaply for large logs.
	start := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].event.CommittedID > req.SinceCommittedID
	})

	result := syncstore.ListResult{NextSinceCommittedID: req.SinceCommittedID}
	for i := start; i < len(s.ordered); i++ {
		ev := s.ordered[i].event
		if req.SyncToCommittedID != nil && ev.CommittedID > *req.SyncToCommittedID {
			break
		}
		if !partition.Intersects(wantPartitions, ev.Partitions) {
			continue
		}
		if len(result.Events) >= limit {
			result.HasMore = true
			break
		}
		result.Events = append(result.Events, ev)
		result.NextSinceCommittedID = ev.CommittedID
	}

	return result, nil
}

func (s *Store) MaxCommittedID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ordered) == 0 {
		return 0, nil
	}
	return s.ordered[len(s.ordered)-1].event.CommittedID, nil
}
