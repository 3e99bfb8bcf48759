// Package viewcache adds a bounded LRU in front of a clientstore.Store's
// materialized-view reads, avoiding a storage round trip (a disk read for
// sqlclient) on every repeated LoadMaterializedView call for the same
// (view, partition) pair. Invalidation is coarse: any write through
// ApplyCommittedBatch or ApplySubmitResult drops the whole cache, since a
// single commit can touch several views and partitions at once.
package viewcache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
)

// Store decorates a clientstore.Store with a read-through LRU cache of
// materialized view state.
type Store struct {
	next  clientstore.Store
	mu    sync.Mutex
	cache *lru.Cache[string, any]
}

// Wrap returns a Store caching up to size (view,partition) entries.
func Wrap(next clientstore.Store, size int) *Store {
	cache, _ := lru.New[string, any](size)
	return &Store{next: next, cache: cache}
}

func key(view, partition string) string { return view + "\x00" + partition }

func (s *Store) Init(ctx context.Context) error { return s.next.Init(ctx) }

func (s *Store) InsertDraft(ctx context.Context, d model.Draft) error {
	return s.next.InsertDraft(ctx, d)
}

func (s *Store) LoadDraftsOrdered(ctx context.Context) ([]model.Draft, error) {
	return s.next.LoadDraftsOrdered(ctx)
}

func (s *Store) ApplySubmitResult(ctx context.Context, app clientstore.SubmitResultApplication) error {
	if err := s.next.ApplySubmitResult(ctx, app); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Store) ApplyCommittedBatch(ctx context.Context, app clientstore.CommittedBatchApplication) error {
	if err := s.next.ApplyCommittedBatch(ctx, app); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Store) LoadCursor(ctx context.Context) (uint64, error) {
	return s.next.LoadCursor(ctx)
}

func (s *Store) LoadMaterializedView(ctx context.Context, viewName, partition string) (any, error) {
	k := key(viewName, partition)

	s.mu.Lock()
	if v, ok := s.cache.Get(k); ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.next.LoadMaterializedView(ctx, viewName, partition)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.Add(k, v)
	s.mu.Unlock()

	return v, nil
}

func (s *Store) RegisterView(ctx context.Context, v clientstore.View) error {
	if err := s.next.RegisterView(ctx, v); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

var _ clientstore.Store = (*Store)(nil)
