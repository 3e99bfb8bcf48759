// Package offline implements the client's local short-circuit transport:
// while no online transport is attached, it synthesizes connected /
// sync_response locally and buffers submissions until an online
// transport takes over.
package offline

import (
	"context"
	"sync"

	"github.com/webitel/sync-engine/internal/client/transport"
	"github.com/webitel/sync-engine/internal/wire"
)

// Transport is the client's local short-circuit transport.
type Transport struct {
	mu       sync.Mutex
	inbound  func(*wire.Envelope)
	disconnected func(error)

	online   transport.Transport
	buffer   []*wire.Envelope
	capacity int
	lastConnect *wire.Envelope
}

var _ transport.Transport = (*Transport)(nil)

// New creates an offline transport with the given submit buffer capacity.
func New(capacity int) *Transport {
	return &Transport{capacity: capacity}
}

func (t *Transport) SetInboundHandler(fn func(*wire.Envelope))     { t.inbound = fn }
func (t *Transport) SetDisconnectHandler(fn func(error))           { t.disconnected = fn }

func (t *Transport) Connect(ctx context.Context) error { return nil }

func (t *Transport) Disconnect() {
	t.mu.Lock()
	online := t.online
	t.mu.Unlock()
	if online != nil {
		online.Disconnect()
	}
}

// Send forwards every envelope to the online transport once one is
// attached. Until then it intercepts connect/sync locally and buffers
// submit_events.
func (t *Transport) Send(ctx context.Context, env *wire.Envelope) error {
	t.mu.Lock()
	online := t.online
	t.mu.Unlock()
	if online != nil {
		return online.Send(ctx, env)
	}

	switch env.Type {
	case wire.TypeConnect:
		t.mu.Lock()
		t.lastConnect = env
		t.mu.Unlock()
		resp, _ := wire.Encode(wire.TypeConnected, env.MsgID, wire.ConnectedPayload{})
		t.deliver(resp)
		return nil

	case wire.TypeSync:
		var payload wire.SyncPayload
		_ = env.DecodePayload(&payload)
		resp, _ := wire.Encode(wire.TypeSyncResponse, env.MsgID, wire.SyncResponsePayload{
			Partitions:           payload.Partitions,
			Events:               nil,
			NextSinceCommittedID: payload.SinceCommittedID,
			HasMore:              false,
		})
		t.deliver(resp)
		return nil

	case wire.TypeSubmitEvents:
		t.mu.Lock()
		if len(t.buffer) >= t.capacity {
			t.mu.Unlock()
			errEnv, _ := wire.Encode(wire.TypeError, env.MsgID, wire.ErrorPayload{
				Code:    wire.CodeRateLimited,
				Message: "offline submit buffer is full",
			})
			t.deliver(errEnv)
			return nil
		}
		t.buffer = append(t.buffer, env)
		t.mu.Unlock()
		return nil

	default:
		return nil
	}
}

func (t *Transport) deliver(env *wire.Envelope) {
	if t.inbound != nil {
		t.inbound(env)
	}
}

// SetOnlineTransport replays the buffered connect (if any) followed by all
// buffered submit_events, in arrival order, to the newly attached online
// transport, whose inbound envelopes are then delivered to this
// transport's inbound handler.
func (t *Transport) SetOnlineTransport(ctx context.Context, online transport.Transport) error {
	online.SetInboundHandler(t.deliver)

	t.mu.Lock()
	t.online = online
	connect := t.lastConnect
	buffered := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	if connect != nil {
		if err := online.Send(ctx, connect); err != nil {
			return err
		}
	}
	for _, env := range buffered {
		if err := online.Send(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// SetOffline disconnects the current online transport and returns to local
// mode.
func (t *Transport) SetOffline() {
	t.mu.Lock()
	online := t.online
	t.online = nil
	t.mu.Unlock()
	if online != nil {
		online.Disconnect()
	}
}

// BufferedLen reports the number of submit_events currently buffered,
// useful for tests and /debug endpoints.
func (t *Transport) BufferedLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}
