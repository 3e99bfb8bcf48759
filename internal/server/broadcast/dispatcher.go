// Package broadcast fans a newly committed event out to every active
// session whose scope intersects it, skipping the origin and any session
// mid-sync-cycle.
package broadcast

import (
	"context"

	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/domain/partition"
	"golang.org/x/sync/errgroup"
)

// Target is the subset of a server session the dispatcher needs: its
// identity, its current scope and sync-cycle status, and a delivery sink.
type Target interface {
	ConnectionID() string
	ActivePartitions() []string
	InSyncCycle() bool
	DeliverBroadcast(ev model.CommittedEvent) bool
}

// Registry tracks active sessions for fan-out purposes.
type Registry struct {
	targets sessionMap
}

func NewRegistry() *Registry {
	return &Registry{targets: newSessionMap()}
}

func (r *Registry) Register(t Target)            { r.targets.set(t.ConnectionID(), t) }
func (r *Registry) Unregister(connectionID string) { r.targets.delete(connectionID) }

// Count reports the number of currently registered sessions.
func (r *Registry) Count() int { return r.targets.count() }

// Broadcast delivers ev to every registered session except originConnID,
// skipping sessions currently mid-sync-cycle and those whose active scope
// does not intersect ev.Partitions. Delivery runs concurrently across
// targets; a slow or failing target never blocks the others.
func (r *Registry) Broadcast(ctx context.Context, originConnID string, ev model.CommittedEvent) int {
	targets := r.targets.snapshot()

	g, _ := errgroup.WithContext(ctx)
	delivered := make([]bool, len(targets))

	for i, t := range targets {
		i, t := i, t
		if t.ConnectionID() == originConnID {
			continue
		}
		if t.InSyncCycle() {
			continue
		}
		if !partition.Intersects(t.ActivePartitions(), ev.Partitions) {
			continue
		}
		g.Go(func() error {
			delivered[i] = t.DeliverBroadcast(ev)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range delivered {
		if ok {
			count++
		}
	}
	return count
}
