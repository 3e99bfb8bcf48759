// Package ws adapts the server session to a gorilla/websocket connection:
// one goroutine pumps inbound frames into the session, the session's own
// Sender implementation writes outbound frames back out.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/sync-engine/internal/server/session"
	"github.com/webitel/sync-engine/internal/wire"
)

// Handler upgrades HTTP connections and drives one session per socket.
type Handler struct {
	logger   *slog.Logger
	deps     session.Deps
	upgrader websocket.Upgrader
}

// NewHandler builds a ws.Handler sharing the given session dependencies
// across every connection it upgrades.
func NewHandler(logger *slog.Logger, deps session.Deps) *Handler {
	return &Handler{
		logger: logger,
		deps:   deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// sink adapts a *websocket.Conn to session.Sender, serializing writes
// behind a mutex since gorilla/websocket forbids concurrent writers.
type sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sink) Send(ctx context.Context, env *wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(env)
}

func (s *sink) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "error", err)
		return
	}
	defer conn.Close()

	sess := session.New(h.deps, &sink{conn: conn})
	h.logger.Info("WS_CONNECTION_OPENED", "conn_id", sess.ConnectionID())

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			sess.Close(ctx, "transport closed")
			h.logger.Info("WS_CONNECTION_CLOSED", "conn_id", sess.ConnectionID(), "error", err)
			return
		}
		sess.HandleInbound(ctx, raw)
		if sess.Phase().String() == "closed" {
			return
		}
	}
}
