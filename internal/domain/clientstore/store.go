// Package clientstore defines the client-side persistence contract:
// transactional draft/commit/cursor operations plus optional materialized
// views. Implementations are external collaborators (in-memory, embedded
// SQL); this package only names the capability set the client runtime
// depends on.
package clientstore

import (
	"context"

	"github.com/webitel/sync-engine/internal/domain/model"
)

// View is a strategy object maintaining one materialized projection of the
// committed log. Reducers MUST be pure and deterministic.
type View interface {
	Name() string
	Version() string
	Init() any
	Reduce(state any, ev model.CommittedEvent, partition string) any
}

// SubmitResultApplication is the input to ApplySubmitResult.
type SubmitResultApplication struct {
	Result         model.SubmitResultEntry
	FallbackClientID string
	Event          *model.CommittedEvent // set only when Result.Status == committed
}

// CommittedBatchApplication is the input to ApplyCommittedBatch.
type CommittedBatchApplication struct {
	Events     []model.CommittedEvent
	NextCursor *uint64 // nil means "do not advance the cursor"
}

// Store is the client store contract. Every method is a single atomic
// transaction.
type Store interface {
	// Init prepares the store for use (schema creation/migration for a
	// durable backend; a no-op for in-memory ones). It MUST fail fast on
	// an unknown future schema version.
	Init(ctx context.Context) error

	InsertDraft(ctx context.Context, d model.Draft) error
	LoadDraftsOrdered(ctx context.Context) ([]model.Draft, error)
	ApplySubmitResult(ctx context.Context, app SubmitResultApplication) error
	ApplyCommittedBatch(ctx context.Context, app CommittedBatchApplication) error
	LoadCursor(ctx context.Context) (uint64, error)
	LoadMaterializedView(ctx context.Context, viewName, partition string) (any, error)

	// RegisterView wires a materialized view strategy so subsequent
	// ApplyCommittedBatch calls maintain it. A version change relative to
	// previously persisted state invalidates and rebuilds the view from
	// the committed log.
	RegisterView(ctx context.Context, v View) error
}
