// Package runtime implements the client side of the sync protocol: a
// single-threaded cooperative actor with a mailbox. Handler callbacks and
// public methods are all funneled through one goroutine; suspension
// points are exactly the awaits on transport.Send / store operations.
package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/sync-engine/internal/client/transport"
	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/obs"
	"github.com/webitel/sync-engine/internal/wire"
)

// ReconnectConfig configures reconnect-with-backoff behavior.
type ReconnectConfig struct {
	Enabled          bool
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Factor           float64
	Jitter           float64
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

// Deps bundles the runtime's external collaborators.
type Deps struct {
	Store     clientstore.Store
	Transport transport.Transport
	Logger    *slog.Logger
	Reconnect ReconnectConfig
	Token     string
	ClientID  string
	SyncLimit int
	Metrics   *obs.Metrics // optional
}

type command func()

// Runtime is the client's sync engine. All state mutation happens on its
// single loop goroutine; every exported method enqueues a command rather
// than touching state directly.
type Runtime struct {
	deps Deps

	cmds    chan command
	stop    chan struct{}
	stopped chan struct{}

	// loop-owned state — touched only on the loop goroutine.
	activePartitions []string
	cycleActive      bool
	attempt          int
	pendingSubmits   map[string]model.Draft
}

// New creates a stopped Runtime; call Start to begin the sync lifecycle.
func New(deps Deps, initialPartitions []string) *Runtime {
	return &Runtime{
		deps:             deps,
		cmds:             make(chan command, 64),
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
		activePartitions: initialPartitions,
		pendingSubmits:   make(map[string]model.Draft),
	}
}

// Start prepares the store, wires the transport, and begins the handshake.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.deps.Store.Init(ctx); err != nil {
		return err
	}

	r.deps.Transport.SetInboundHandler(func(env *wire.Envelope) {
		r.enqueue(func() { r.onInbound(ctx, env) })
	})
	r.deps.Transport.SetDisconnectHandler(func(err error) {
		r.enqueue(func() { r.onDisconnect(ctx, err) })
	})

	go r.loop()

	if err := r.deps.Transport.Connect(ctx); err != nil {
		return err
	}
	r.enqueue(func() { r.sendConnect(ctx) })
	return nil
}

// Stop tears down the transport and refuses further public calls.
func (r *Runtime) Stop() {
	select {
	case <-r.stop:
		return
	default:
	}
	close(r.stop)
	r.deps.Transport.Disconnect()
	<-r.stopped
}

func (r *Runtime) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			return
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

func (r *Runtime) enqueue(cmd command) {
	select {
	case <-r.stop:
		return
	case r.cmds <- cmd:
	default:
		// Mailbox saturated: drop rather than block the transport's
		// delivery goroutine indefinitely.
		if r.deps.Logger != nil {
			r.deps.Logger.Warn("RUNTIME_MAILBOX_FULL")
		}
	}
}

// SubmitDraft enqueues a new locally-created draft. If a sync cycle is
// active it is queued in the draft store but not sent; otherwise it is
// drained immediately alongside any other pending drafts.
func (r *Runtime) SubmitDraft(ctx context.Context, id string, partitions []string, event json.RawMessage) {
	r.enqueue(func() { r.submitDraft(ctx, id, partitions, event) })
}

func (r *Runtime) submitDraft(ctx context.Context, id string, partitions []string, event json.RawMessage) {
	if id == "" {
		id = uuid.NewString()
	}
	d := model.Draft{
		ID:         id,
		ClientID:   r.deps.ClientID,
		Partitions: partitions,
		Event:      event,
		CreatedAt:  uint64(time.Now().UnixMilli()),
	}
	if err := r.deps.Store.InsertDraft(ctx, d); err != nil {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("DRAFT_INSERT_FAILED", "id", id, "err", err)
		}
		return
	}
	if !r.cycleActive {
		r.drainDrafts(ctx)
	}
}

// SetPartitions updates the active scope and issues a new sync. A nil
// since means "resume from the durable cursor"; passing since=0 forces a
// full catch-up, required when adding a previously-unseen partition.
func (r *Runtime) SetPartitions(ctx context.Context, next []string, since *uint64) {
	r.enqueue(func() { r.setPartitions(ctx, next, since) })
}

func (r *Runtime) setPartitions(ctx context.Context, next []string, since *uint64) {
	r.activePartitions = next
	var from uint64
	if since != nil {
		from = *since
	} else {
		cur, err := r.deps.Store.LoadCursor(ctx)
		if err != nil {
			if r.deps.Logger != nil {
				r.deps.Logger.Error("CURSOR_LOAD_FAILED", "err", err)
			}
			return
		}
		from = cur
	}
	r.cycleActive = true
	r.sendSync(ctx, from)
}

func (r *Runtime) sendConnect(ctx context.Context) {
	env, _ := wire.Encode(wire.TypeConnect, uuid.NewString(), wire.ConnectPayload{
		Token:    r.deps.Token,
		ClientID: r.deps.ClientID,
	})
	if err := r.deps.Transport.Send(ctx, env); err != nil {
		r.scheduleReconnect(ctx)
	}
}

func (r *Runtime) sendSync(ctx context.Context, since uint64) {
	env, _ := wire.Encode(wire.TypeSync, uuid.NewString(), wire.SyncPayload{
		Partitions:       r.activePartitions,
		SinceCommittedID: since,
		Limit:            r.deps.SyncLimit,
	})
	_ = r.deps.Transport.Send(ctx, env)
}

func (r *Runtime) onInbound(ctx context.Context, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeConnected:
		cur, err := r.deps.Store.LoadCursor(ctx)
		if err != nil {
			cur = 0
		}
		r.cycleActive = true
		r.sendSync(ctx, cur)

	case wire.TypeSyncResponse:
		r.onSyncResponse(ctx, env)

	case wire.TypeSubmitEventsResult:
		r.onSubmitResult(ctx, env)

	case wire.TypeEventBroadcast:
		r.onBroadcast(ctx, env)

	case wire.TypeError:
		r.onError(ctx, env)

	default:
		r.emitClientError(ctx, wire.CodeBadServerMessage, "unrecognized server message type")
	}
}

func (r *Runtime) onSyncResponse(ctx context.Context, env *wire.Envelope) {
	var payload wire.SyncResponsePayload
	if err := env.DecodePayload(&payload); err != nil {
		r.emitClientError(ctx, wire.CodeBadServerMessage, "malformed sync_response")
		return
	}

	events := make([]model.CommittedEvent, 0, len(payload.Events))
	for _, ev := range payload.Events {
		events = append(events, model.CommittedEvent{
			ID:              ev.ID,
			ClientID:        ev.ClientID,
			Partitions:      ev.Partitions,
			CommittedID:     ev.CommittedID,
			Event:           ev.Event,
			StatusUpdatedAt: ev.StatusUpdatedAt,
		})
	}

	app := clientstore.CommittedBatchApplication{Events: events}
	if !payload.HasMore {
		next := payload.NextSinceCommittedID
		app.NextCursor = &next
	}
	if err := r.deps.Store.ApplyCommittedBatch(ctx, app); err != nil {
		r.emitClientError(ctx, wire.CodeClientRuntimeError, err.Error())
		r.deps.Transport.Disconnect()
		return
	}

	if payload.HasMore {
		r.sendSync(ctx, payload.NextSinceCommittedID)
		return
	}

	r.cycleActive = false
	r.drainDrafts(ctx)
}

func (r *Runtime) drainDrafts(ctx context.Context) {
	drafts, err := r.deps.Store.LoadDraftsOrdered(ctx)
	if err != nil {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("DRAFT_LOAD_FAILED", "err", err)
		}
		return
	}
	for _, d := range drafts {
		r.pendingSubmits[d.ID] = d
		env, _ := wire.Encode(wire.TypeSubmitEvents, uuid.NewString(), wire.SubmitEventsPayload{
			Events: []wire.SubmitItem{{ID: d.ID, Partitions: d.Partitions, Event: d.Event}},
		})
		_ = r.deps.Transport.Send(ctx, env)
	}
}

func (r *Runtime) onSubmitResult(ctx context.Context, env *wire.Envelope) {
	var payload wire.SubmitEventsResultPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.emitClientError(ctx, wire.CodeBadServerMessage, "malformed submit_events_result")
		return
	}

	for _, entry := range payload.Results {
		draft, known := r.pendingSubmits[entry.ID]
		delete(r.pendingSubmits, entry.ID)

		app := clientstore.SubmitResultApplication{
			Result: model.SubmitResultEntry{
				ID:              entry.ID,
				Status:          model.SubmitStatus(entry.Status),
				CommittedID:     entry.CommittedID,
				Reason:          entry.Reason,
				StatusUpdatedAt: entry.StatusUpdatedAt,
			},
			FallbackClientID: r.deps.ClientID,
		}
		if model.SubmitStatus(entry.Status) == model.StatusCommitted {
			ev := &model.CommittedEvent{
				ID:              entry.ID,
				ClientID:        r.deps.ClientID,
				CommittedID:     entry.CommittedID,
				StatusUpdatedAt: entry.StatusUpdatedAt,
			}
			if known {
				ev.Partitions = draft.Partitions
				ev.Event = draft.Event
				if draft.ClientID != "" {
					ev.ClientID = draft.ClientID
				}
			} else if r.deps.Logger != nil {
				r.deps.Logger.Warn("SUBMIT_RESULT_UNKNOWN_DRAFT", "id", entry.ID)
			}
			app.Event = ev
		}
		if err := r.deps.Store.ApplySubmitResult(ctx, app); err != nil {
			r.emitClientError(ctx, wire.CodeClientRuntimeError, err.Error())
			r.deps.Transport.Disconnect()
			return
		}
	}
}

func (r *Runtime) onBroadcast(ctx context.Context, env *wire.Envelope) {
	var payload wire.EventBroadcastPayload
	if err := env.DecodePayload(&payload); err != nil {
		r.emitClientError(ctx, wire.CodeBadServerMessage, "malformed event_broadcast")
		return
	}
	ev := model.CommittedEvent{
		ID:              payload.ID,
		ClientID:        payload.ClientID,
		Partitions:      payload.Partitions,
		CommittedID:     payload.CommittedID,
		Event:           payload.Event,
		StatusUpdatedAt: payload.StatusUpdatedAt,
	}
	if err := r.deps.Store.ApplyCommittedBatch(ctx, clientstore.CommittedBatchApplication{Events: []model.CommittedEvent{ev}}); err != nil {
		r.emitClientError(ctx, wire.CodeClientRuntimeError, err.Error())
		r.deps.Transport.Disconnect()
	}
}

func (r *Runtime) onError(ctx context.Context, env *wire.Envelope) {
	var payload wire.ErrorPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	if r.deps.Logger != nil {
		r.deps.Logger.Warn("SERVER_ERROR", "code", payload.Code, "message", payload.Message)
	}
	switch payload.Code {
	case wire.CodeAuthFailed, wire.CodeProtocolVersionUnsupported:
		r.deps.Transport.Disconnect()
	case wire.CodeServerError:
		r.deps.Transport.Disconnect()
		r.scheduleReconnect(ctx)
	}
}

func (r *Runtime) onDisconnect(ctx context.Context, err error) {
	select {
	case <-r.stop:
		return
	default:
	}
	if err == nil {
		return
	}
	r.scheduleReconnect(ctx)
}

func (r *Runtime) scheduleReconnect(ctx context.Context) {
	if !r.deps.Reconnect.Enabled {
		return
	}
	if r.deps.Reconnect.MaxAttempts > 0 && r.attempt >= r.deps.Reconnect.MaxAttempts {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("RECONNECT_EXHAUSTED", "attempts", r.attempt)
		}
		return
	}

	delay := backoffDelay(r.deps.Reconnect, r.attempt)
	r.attempt++
	if r.deps.Metrics != nil {
		r.deps.Metrics.ReconnectAttempts.Add(ctx, 1)
	}

	go func() {
		select {
		case <-r.stop:
			return
		case <-time.After(delay):
		}
		r.enqueue(func() {
			if err := r.deps.Transport.Connect(ctx); err != nil {
				r.scheduleReconnect(ctx)
				return
			}
			r.sendConnect(ctx)
		})
	}()
}

func backoffDelay(cfg ReconnectConfig, attempt int) time.Duration {
	base := float64(cfg.InitialDelay) * pow(cfg.Factor, attempt)
	if max := float64(cfg.MaxDelay); max > 0 && base > max {
		base = max
	}
	if cfg.Jitter > 0 {
		j := 1 + (rand.Float64()*2-1)*cfg.Jitter
		base *= j
	}
	return time.Duration(base)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (r *Runtime) emitClientError(ctx context.Context, code wire.Code, message string) {
	if r.deps.Logger != nil {
		r.deps.Logger.Error("CLIENT_ERROR", "code", code, "message", message)
	}
}
