package session

import (
	"context"

	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/obs"
	"github.com/webitel/sync-engine/internal/wire"
)

func (s *Session) handleSubmitEvents(ctx context.Context, env *wire.Envelope) {
	var payload wire.SubmitEventsPayload
	if err := env.DecodePayload(&payload); err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "malformed submit_events payload")
		return
	}
	if len(payload.Events) != 1 {
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "submit_events carries exactly one item in core mode")
		return
	}
	item := payload.Events[0]

	entry := s.submitOne(ctx, item)
	if entry.Status == model.StatusRejected && s.deps.Metrics != nil {
		s.deps.Metrics.CommitsRejected.Add(ctx, 1)
	}

	resp, _ := wire.Encode(wire.TypeSubmitEventsResult, env.MsgID, wire.SubmitEventsResultPayload{
		Results: []wire.SubmitResultWireEntry{toWireEntry(entry)},
	})
	_ = s.sink.Send(ctx, resp)
}

// submitOne runs the full commit pipeline for a single submitted item.
func (s *Session) submitOne(ctx context.Context, item wire.SubmitItem) model.SubmitResultEntry {
	ctx, span := obs.StartSpan(ctx, s.deps.tracer(), "session.submit_one")
	defer span.End()

	now := s.deps.Clock()

	norm, err := s.normalizeAndAuthorize(ctx, item.Partitions)
	if err != nil {
		if werr, ok := wire.AsWireError(err); ok {
			if werr.Code == wire.CodeForbidden {
				return rejected(item.ID, "forbidden", nil, now)
			}
			return rejected(item.ID, "validation_failed", []model.FieldError{{Field: "partitions", Message: werr.Message}}, now)
		}
		return rejected(item.ID, "validation_failed", []model.FieldError{{Field: "partitions", Message: err.Error()}}, now)
	}

	if s.deps.Validator != nil {
		if err := s.deps.Validator.Validate(ctx, norm, item.Event); err != nil {
			return rejected(item.ID, "validation_failed", []model.FieldError{{Field: "event", Message: err.Error()}}, now)
		}
	}

	res, err := s.deps.Store.CommitOrGetExisting(ctx, syncstore.CommitRequest{
		ID:         item.ID,
		ClientID:   s.clientIDLocked(),
		Partitions: norm,
		Event:      item.Event,
		Now:        now,
	})
	if err != nil {
		if werr, ok := wire.AsWireError(err); ok && werr.Code == wire.CodeValidationFailed {
			return rejected(item.ID, "validation_failed", []model.FieldError{{Field: "event", Message: werr.Message}}, now)
		}
		if s.deps.Logger != nil {
			s.deps.Logger.Error("COMMIT_FAILED", "conn_id", s.connID, "id", item.ID, "err", err)
		}
		s.closeLocked(ctx, "server_error")
		return rejected(item.ID, "server_error", nil, now)
	}

	if res.Deduped {
		if s.deps.Metrics != nil {
			s.deps.Metrics.CommitsDeduped.Add(ctx, 1)
		}
	} else {
		delivered := s.deps.Broadcast.Broadcast(ctx, s.connID, res.CommittedEvent)
		if s.deps.Cluster != nil {
			if err := s.deps.Cluster.PublishCommitted(ctx, res.CommittedEvent); err != nil && s.deps.Logger != nil {
				s.deps.Logger.Error("CLUSTER_PUBLISH_FAILED", "conn_id", s.connID, "id", item.ID, "err", err)
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CommitsAccepted.Add(ctx, 1)
			s.deps.Metrics.BroadcastFanout.Add(ctx, int64(delivered))
		}
		if s.deps.Logger != nil {
			s.deps.Logger.Info("COMMIT_ACCEPTED", "conn_id", s.connID, "id", item.ID, "committed_id", res.CommittedEvent.CommittedID, "broadcast_count", delivered)
		}
	}

	return model.SubmitResultEntry{
		ID:              item.ID,
		Status:          model.StatusCommitted,
		CommittedID:     res.CommittedEvent.CommittedID,
		StatusUpdatedAt: res.CommittedEvent.StatusUpdatedAt,
	}
}

func rejected(id, reason string, errs []model.FieldError, now uint64) model.SubmitResultEntry {
	return model.SubmitResultEntry{
		ID:              id,
		Status:          model.StatusRejected,
		Reason:          reason,
		Errors:          errs,
		StatusUpdatedAt: now,
	}
}

func toWireEntry(e model.SubmitResultEntry) wire.SubmitResultWireEntry {
	errs := make([]wire.WireFieldError, 0, len(e.Errors))
	for _, fe := range e.Errors {
		errs = append(errs, wire.WireFieldError{Field: fe.Field, Message: fe.Message})
	}
	return wire.SubmitResultWireEntry{
		ID:              e.ID,
		Status:          string(e.Status),
		CommittedID:     e.CommittedID,
		Reason:          e.Reason,
		Errors:          errs,
		StatusUpdatedAt: e.StatusUpdatedAt,
	}
}
