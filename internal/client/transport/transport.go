// Package transport defines the duplex channel contract the client runtime
// drives. Concrete implementations (websocket, offline loopback) live in
// sibling packages.
package transport

import (
	"context"

	"github.com/webitel/sync-engine/internal/wire"
)

// Transport is a single logical connection to the server. The runtime
// calls Connect once per connection attempt, registers handlers before
// calling Connect, and calls Disconnect to tear down.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env *wire.Envelope) error
	Disconnect()

	// SetInboundHandler registers the sink for server -> client envelopes.
	// Must be called before Connect.
	SetInboundHandler(func(*wire.Envelope))

	// SetDisconnectHandler registers a callback invoked exactly once when
	// the transport drops, whether cleanly or due to an error (nil error
	// on clean shutdown initiated by the runtime itself).
	SetDisconnectHandler(func(error))
}
