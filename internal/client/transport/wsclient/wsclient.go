// Package wsclient is the client-side gorilla/websocket transport.Transport
// implementation: one goroutine pumps inbound frames to the registered
// handler, Send writes frames out under a mutex.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/webitel/sync-engine/internal/wire"
)

// Transport dials url on Connect and pumps frames until the connection
// drops or Disconnect is called.
type Transport struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	inbound      func(*wire.Envelope)
	disconnected func(error)
}

// New creates a wsclient.Transport dialing url (ws:// or wss://) on Connect.
func New(url string) *Transport {
	return &Transport{url: url}
}

func (t *Transport) SetInboundHandler(fn func(*wire.Envelope)) { t.inbound = fn }
func (t *Transport) SetDisconnectHandler(fn func(error))       { t.disconnected = fn }

func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("wsclient: dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.pump()
	return nil
}

func (t *Transport) pump() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			// Disconnect clears t.conn before closing; a changed t.conn
			// means this drop was initiated locally and reports nil.
			initiated := t.conn != conn
			if !initiated {
				t.conn = nil
			}
			t.mu.Unlock()
			if initiated {
				err = nil
			}
			if t.disconnected != nil {
				t.disconnected(err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if t.inbound != nil {
			t.inbound(&env)
		}
	}
}

func (t *Transport) Send(ctx context.Context, env *wire.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	return conn.WriteJSON(env)
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
