// Package memclient is an in-memory reference implementation of the
// client store contract: drafts, committed rows, cursor, and materialized
// views, all guarded by a single mutex to keep every operation atomic.
package memclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
)

type viewState struct {
	view    clientstore.View
	version string
	byPart  map[string]any
}

// Store is an in-memory clientstore.Store.
type Store struct {
	mu sync.Mutex

	drafts      map[string]model.Draft
	draftClock  uint64
	committed   map[string]model.CommittedEvent
	cursor      uint64
	views       map[string]*viewState
}

// New returns an empty store.
func New() *Store {
	return &Store{
		drafts:    make(map[string]model.Draft),
		committed: make(map[string]model.CommittedEvent),
		views:     make(map[string]*viewState),
	}
}

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) InsertDraft(ctx context.Context, d model.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[d.ID]; ok {
		return fmt.Errorf("memclient: duplicate draft id %q", d.ID)
	}
	s.draftClock++
	d.DraftClock = s.draftClock
	s.drafts[d.ID] = d
	return nil
}

func (s *Store) LoadDraftsOrdered(ctx context.Context) ([]model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DraftClock != out[j].DraftClock {
			return out[i].DraftClock < out[j].DraftClock
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ApplySubmitResult(ctx context.Context, app clientstore.SubmitResultApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, app.Result.ID)

	if app.Result.Status == model.StatusCommitted && app.Event != nil {
		if _, seen := s.committed[app.Event.ID]; !seen {
			s.upsertCommittedLocked(*app.Event)
		}
	}
	return nil
}

func (s *Store) ApplyCommittedBatch(ctx context.Context, app clientstore.CommittedBatchApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range app.Events {
		if existing, ok := s.committed[ev.ID]; ok {
			if existing.CommittedID != ev.CommittedID {
				return fmt.Errorf("memclient: fatal invariant violation: id %q observed with committed_id %d and %d", ev.ID, existing.CommittedID, ev.CommittedID)
			}
			// Duplicate with same committed_id and (assumed) matching
			// canonical payload: no-op, reducers do not re-fire.
			delete(s.drafts, ev.ID)
			continue
		}
		s.upsertCommittedLocked(ev)
		delete(s.drafts, ev.ID)
	}

	if app.NextCursor != nil && *app.NextCursor > s.cursor {
		s.cursor = *app.NextCursor
	}
	return nil
}

// upsertCommittedLocked inserts a newly-seen committed row and feeds every
// registered view's reducer once per partition. Callers must hold s.mu.
func (s *Store) upsertCommittedLocked(ev model.CommittedEvent) {
	s.committed[ev.ID] = ev

	for _, vs := range s.views {
		for _, part := range ev.Partitions {
			cur, ok := vs.byPart[part]
			if !ok {
				cur = vs.view.Init()
			}
			vs.byPart[part] = vs.view.Reduce(cur, ev, part)
		}
	}
}

func (s *Store) LoadCursor(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *Store) LoadMaterializedView(ctx context.Context, viewName, part string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs, ok := s.views[viewName]
	if !ok {
		return nil, fmt.Errorf("memclient: unknown view %q", viewName)
	}
	if v, ok := vs.byPart[part]; ok {
		return v, nil
	}
	return vs.view.Init(), nil
}

func (s *Store) RegisterView(ctx context.Context, v clientstore.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.views[v.Name()]
	if ok && existing.version == v.Version() {
		return nil
	}

	// A new view, or a version mismatch: (re)build from the committed log.
	vs := &viewState{view: v, version: v.Version(), byPart: make(map[string]any)}
	ordered := make([]model.CommittedEvent, 0, len(s.committed))
	for _, ev := range s.committed {
		ordered = append(ordered, ev)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CommittedID < ordered[j].CommittedID })

	for _, ev := range ordered {
		for _, part := range ev.Partitions {
			cur, ok := vs.byPart[part]
			if !ok {
				cur = v.Init()
			}
			vs.byPart[part] = v.Reduce(cur, ev, part)
		}
	}

	s.views[v.Name()] = vs
	return nil
}
