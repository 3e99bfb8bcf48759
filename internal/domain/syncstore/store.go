// Package syncstore defines the server-side persistence contract: atomic
// commit-or-dedupe and paged catch-up listing. Implementations are
// external collaborators (in-memory, embedded SQL, ...); this package only
// names the capability set a composition root wires into server/session.
package syncstore

import (
	"context"
	"encoding/json"

	"github.com/webitel/sync-engine/internal/domain/model"
)

// CommitRequest is the input to CommitOrGetExisting.
type CommitRequest struct {
	ID         string
	ClientID   string
	Partitions []string
	Event      json.RawMessage
	Now        uint64
}

// CommitResult is the output of CommitOrGetExisting.
type CommitResult struct {
	Deduped        bool
	CommittedEvent model.CommittedEvent
}

// ListRequest is the input to ListCommittedSince.
type ListRequest struct {
	Partitions        []string
	SinceCommittedID  uint64
	Limit             int
	SyncToCommittedID *uint64 // nil means unbounded
}

// ListResult is the output of ListCommittedSince.
type ListResult struct {
	Events               []model.CommittedEvent
	HasMore              bool
	NextSinceCommittedID uint64
}

// Store is the sync store contract. Implementations MUST make
// CommitOrGetExisting atomic with respect to concurrent callers: allocation
// of committed_id and its durable persistence happen as one unit, so no
// reply path ever observes an id that didn't make it to durable storage.
type Store interface {
	// CommitOrGetExisting durably persists a new committed row on first
	// sight of ID, or returns the existing row (Deduped=true) when the
	// canonical (partitions, event) match. It returns a *wire.Error with
	// Code=validation_failed when ID already exists with a different
	// canonical payload.
	CommitOrGetExisting(ctx context.Context, req CommitRequest) (CommitResult, error)

	// ListCommittedSince returns committed rows with committed_id >
	// SinceCommittedID whose partitions intersect req.Partitions, in
	// ascending committed_id order, up to Limit. When SyncToCommittedID is
	// set, rows with committed_id above it are excluded and HasMore
	// reflects only rows within that bound.
	ListCommittedSince(ctx context.Context, req ListRequest) (ListResult, error)

	// MaxCommittedID returns the highest committed_id currently durable,
	// or 0 if the log is empty. Used by the server session to open a sync
	// cycle's fixed upper bound and to answer server_last_committed_id on
	// connect.
	MaxCommittedID(ctx context.Context) (uint64, error)
}
