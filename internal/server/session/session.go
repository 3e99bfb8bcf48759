// Package session implements the per-connection server state machine: the
// Awaiting-Connect/Active/Closed phases, the submit pipeline, and the
// paged sync cycle.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/sync-engine/internal/domain/model"
	"github.com/webitel/sync-engine/internal/domain/partition"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/obs"
	"github.com/webitel/sync-engine/internal/server/auth"
	"github.com/webitel/sync-engine/internal/server/broadcast"
	"github.com/webitel/sync-engine/internal/wire"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Sender is the transport-facing sink a Session writes outbound envelopes
// to. Implementations are provided by the transport adapter (ws, grpc,
// loopback) wiring this session to an actual wire.
type Sender interface {
	Send(ctx context.Context, env *wire.Envelope) error
	Close(reason string)
}

// RateLimits configures the per-connection inbound allowance.
type RateLimits struct {
	MaxInboundMessagesPerWindow int
	RateWindow                  time.Duration
	MaxEnvelopeBytes            int
	CloseOnRateLimit            bool
	CloseOnOversize             bool
}

// SyncLimits bounds the sync.limit clamp, defaulting to 500 with a
// [1,1000] clamp range.
type SyncLimits struct {
	DefaultLimit int
	MinLimit     int
	MaxLimit     int
}

// DefaultSyncLimits are the default/min/max clamp values for sync.limit.
var DefaultSyncLimits = SyncLimits{DefaultLimit: 500, MinLimit: 1, MaxLimit: 1000}

// ClusterPublisher relays a locally-accepted commit to other nodes of a
// horizontally-scaled deployment. Optional: a single-node deployment
// leaves this nil and relies on the in-process broadcast.Registry alone.
type ClusterPublisher interface {
	PublishCommitted(ctx context.Context, ev model.CommittedEvent) error
}

// Deps bundles the session's external collaborators.
type Deps struct {
	Store       syncstore.Store
	Authn       auth.Authenticator
	Authz       auth.Authorizer
	Validator   auth.Validator
	Broadcast   *broadcast.Registry
	Cluster     ClusterPublisher // optional; nil for single-node deployments
	Logger      *slog.Logger
	RateLimits  RateLimits
	SyncLimits  SyncLimits
	Clock       func() uint64 // unix millis; overridable for tests
	Metrics     *obs.Metrics  // optional; nil disables instrument emission
	Tracer      trace.TracerProvider // optional; nil disables span emission
}

func (d Deps) tracer() trace.TracerProvider {
	if d.Tracer != nil {
		return d.Tracer
	}
	return noop.NewTracerProvider()
}

// Session is one connection's state machine.
type Session struct {
	deps Deps
	sink Sender

	mu         sync.Mutex
	connID     string
	identity   string
	clientID   string
	activeParts []string
	cycle      *model.SyncCycle
	phase      model.Phase

	window      time.Time
	windowCount int
}

// New creates a session in PhaseAwaitingConnect bound to sink.
func New(deps Deps, sink Sender) *Session {
	if deps.Clock == nil {
		deps.Clock = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	return &Session{
		deps:   deps,
		sink:   sink,
		connID: uuid.NewString(),
		phase:  model.PhaseAwaitingConnect,
	}
}

// --- broadcast.Target ---

func (s *Session) ConnectionID() string { return s.connID }

func (s *Session) ActivePartitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.activeParts))
	copy(out, s.activeParts)
	return out
}

func (s *Session) InSyncCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle != nil
}

func (s *Session) DeliverBroadcast(ev model.CommittedEvent) bool {
	payload := wire.EventBroadcastPayload{
		ID:              ev.ID,
		ClientID:        ev.ClientID,
		Partitions:      ev.Partitions,
		CommittedID:     ev.CommittedID,
		Event:           ev.Event,
		StatusUpdatedAt: ev.StatusUpdatedAt,
	}
	env, err := wire.Encode(wire.TypeEventBroadcast, "", payload)
	if err != nil {
		return false
	}
	return s.sink.Send(context.Background(), env) == nil
}

// Phase reports the current state machine phase.
func (s *Session) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// HandleInbound dispatches one inbound envelope per the state machine.
func (s *Session) HandleInbound(ctx context.Context, raw []byte) {
	if s.deps.RateLimits.MaxEnvelopeBytes > 0 && len(raw) > s.deps.RateLimits.MaxEnvelopeBytes {
		s.emitError(ctx, "", wire.CodeBadRequest, "envelope exceeds maximum size")
		if s.deps.RateLimits.CloseOnOversize {
			s.closeLocked(ctx, "oversize_envelope")
		}
		return
	}

	if !s.allowMessage() {
		s.emitError(ctx, "", wire.CodeRateLimited, "inbound rate limit exceeded")
		if s.deps.RateLimits.CloseOnRateLimit {
			s.closeLocked(ctx, "rate_limited")
		}
		return
	}

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.emitError(ctx, "", wire.CodeBadRequest, "malformed envelope")
		return
	}

	if env.ProtocolVersion == "" {
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "missing protocol_version")
		return
	}
	if env.ProtocolVersion != wire.ProtocolVersion {
		s.emitError(ctx, env.MsgID, wire.CodeProtocolVersionUnsupported, "unsupported protocol_version")
		s.closeLocked(ctx, "protocol_version_unsupported")
		return
	}

	if s.Phase() == model.PhaseClosed {
		return
	}

	switch {
	case s.Phase() == model.PhaseAwaitingConnect && env.Type == wire.TypeConnect:
		s.handleConnect(ctx, &env)
	case s.Phase() == model.PhaseAwaitingConnect:
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "expected connect as the first message")
	case env.Type == wire.TypeSync:
		s.handleSync(ctx, &env)
	case env.Type == wire.TypeSubmitEvents:
		s.handleSubmitEvents(ctx, &env)
	default:
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "unsupported message type")
	}
}

func (s *Session) handleConnect(ctx context.Context, env *wire.Envelope) {
	var payload wire.ConnectPayload
	if err := env.DecodePayload(&payload); err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeBadRequest, "malformed connect payload")
		return
	}

	identity, err := s.deps.Authn.VerifyToken(ctx, payload.Token)
	if err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeAuthFailed, "token verification failed")
		s.closeLocked(ctx, "auth_failed")
		return
	}
	if identity != payload.ClientID {
		s.emitError(ctx, env.MsgID, wire.CodeAuthFailed, "identity claim does not match client_id")
		s.closeLocked(ctx, "auth_failed")
		return
	}

	lastID, err := s.deps.Store.MaxCommittedID(ctx)
	if err != nil {
		s.emitError(ctx, env.MsgID, wire.CodeServerError, "failed to read committed log watermark")
		s.closeLocked(ctx, "server_error")
		return
	}

	s.mu.Lock()
	s.identity = identity
	s.clientID = payload.ClientID
	s.phase = model.PhaseActive
	s.mu.Unlock()

	s.deps.Broadcast.Register(s)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsActive.Add(ctx, 1)
	}

	resp, _ := wire.Encode(wire.TypeConnected, env.MsgID, wire.ConnectedPayload{
		ClientID:              payload.ClientID,
		ServerLastCommittedID: lastID,
	})
	_ = s.sink.Send(ctx, resp)
}

// Close tears the session down unconditionally; used by the server on
// shutdown or transport disconnect.
func (s *Session) Close(ctx context.Context, reason string) {
	s.closeLocked(ctx, reason)
}

func (s *Session) closeLocked(ctx context.Context, reason string) {
	s.mu.Lock()
	already := s.phase == model.PhaseClosed
	s.phase = model.PhaseClosed
	s.mu.Unlock()

	if already {
		return
	}
	s.deps.Broadcast.Unregister(s.connID)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsActive.Add(ctx, -1)
	}
	s.sink.Close(reason)
	if s.deps.Logger != nil {
		s.deps.Logger.Info("SESSION_CLOSED", "conn_id", s.connID, "reason", reason)
	}
}

func (s *Session) emitError(ctx context.Context, msgID string, code wire.Code, message string) {
	env, err := wire.Encode(wire.TypeError, msgID, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = s.sink.Send(ctx, env)
}

// allowMessage applies a fixed-window counter against RateLimits.
func (s *Session) allowMessage() bool {
	limit := s.deps.RateLimits.MaxInboundMessagesPerWindow
	if limit <= 0 {
		return true
	}
	window := s.deps.RateLimits.RateWindow
	if window <= 0 {
		window = time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.window) > window {
		s.window = now
		s.windowCount = 0
	}
	s.windowCount++
	return s.windowCount <= limit
}

// normalizeAndAuthorize is shared by sync and submit handling.
func (s *Session) normalizeAndAuthorize(ctx context.Context, raw []string) ([]string, error) {
	norm, err := partition.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if s.deps.Authz != nil {
		if err := s.deps.Authz.AuthorizePartitions(ctx, s.identityLocked(), norm); err != nil {
			return nil, wire.New(wire.CodeForbidden, "not authorized for requested partitions")
		}
	}
	return norm, nil
}

func (s *Session) identityLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) clientIDLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}
