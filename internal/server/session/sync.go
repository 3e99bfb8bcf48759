package session

import (
	"context"

	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/wire"
)

func (s *Session) handleSync(ctx context.Context, env *wire.Envelope) {
	var payload wire.SyncPayload
	if err := env.DecodePayload(&payload); err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "malformed sync payload")
		return
	}

	norm, err := s.normalizeAndAuthorize(ctx, payload.Partitions)
	if err != nil {
		if werr, ok := wire.AsWireError(err); ok {
			s.emitError(ctx, env.MsgID, werr.Code, werr.Message)
			return
		}
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.activeParts = norm
	cycle := s.cycle
	s.mu.Unlock()

	if cycle == nil {
		maxID, err := s.deps.Store.MaxCommittedID(ctx)
		if err != nil {
			s.emitError(ctx, env.MsgID, wire.CodeServerError, "failed to open sync cycle")
			s.closeLocked(ctx, "server_error")
			return
		}
		cycle = &model.SyncCycle{SyncTo: maxID, Cursor: payload.SinceCommittedID}
		s.mu.Lock()
		s.cycle = cycle
		s.mu.Unlock()
	}

	limit := clampLimit(payload.Limit, s.deps.SyncLimits)
	syncTo := cycle.SyncTo

	res, err := s.deps.Store.ListCommittedSince(ctx, syncstore.ListRequest{
		Partitions:        norm,
		SinceCommittedID:  payload.SinceCommittedID,
		Limit:             limit,
		SyncToCommittedID: &syncTo,
	})
	if err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeServerError, "sync listing failed")
		s.closeLocked(ctx, "server_error")
		return
	}

	wireEvents := make([]wire.WireCommittedEvent, 0, len(res.Events))
	for _, ev := range res.Events {
		wireEvents = append(wireEvents, wire.WireCommittedEvent{
			ID:              ev.ID,
			ClientID:        ev.ClientID,
			Partitions:      ev.Partitions,
			CommittedID:     ev.CommittedID,
			Event:           ev.Event,
			StatusUpdatedAt: ev.StatusUpdatedAt,
		})
	}

	respEnv, _ := wire.Encode(wire.TypeSyncResponse, env.MsgID, wire.SyncResponsePayload{
		Partitions:           norm,
		Events:               wireEvents,
		NextSinceCommittedID: res.NextSinceCommittedID,
		HasMore:              res.HasMore,
	})
	_ = s.sink.Send(ctx, respEnv)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SyncPagesServed.Add(ctx, 1)
	}

	if !res.HasMore {
		s.mu.Lock()
		s.cycle = nil
		s.mu.Unlock()
	}
}

func clampLimit(limit int, bounds SyncLimits) int {
	if limit == 0 {
		return bounds.DefaultLimit
	}
	if limit < bounds.MinLimit {
		return bounds.MinLimit
	}
	if limit > bounds.MaxLimit {
		return bounds.MaxLimit
	}
	return limit
}
