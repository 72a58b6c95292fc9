// ABOUTME: Websocket endpoint: upgrade, connection registration, read loop, keepalive
// ABOUTME: Each inbound sendMessage turn runs in its own goroutine through the dispatcher

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/closetly/closet-gateway/internal/registry"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second

	maxTurnBytes = 64 * 1024
)

// WSHandler serves the websocket chat endpoint
type WSHandler struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewWSHandler creates the websocket handler
func NewWSHandler(dispatcher *Dispatcher, reg *registry.Registry) *WSHandler {
	return &WSHandler{
		dispatcher: dispatcher,
		registry:   reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth happens per turn, not at upgrade time
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "ws"),
	}
}

// wsConn wraps one websocket connection. Writes are mutex-guarded
// because turn goroutines and the ping loop write concurrently.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ID() string {
	return c.id
}

// Push writes one JSON event to the client
func (c *wsConn) Push(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ServeHTTP upgrades the connection and runs its read loop
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &wsConn{id: uuid.NewString(), conn: raw}

	// Turns must outlive the connection: message durability does not
	// depend on the client staying connected.
	turnCtx := context.WithoutCancel(r.Context())

	if err := h.registry.Add(turnCtx, conn.id); err != nil {
		h.logger.Error("failed to register connection", "connection_id", conn.id, "error", err)
		raw.Close()
		return
	}

	h.logger.Info("client connected", "connection_id", conn.id, "remote", r.RemoteAddr)

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	h.readLoop(turnCtx, conn)

	close(pingDone)
	raw.Close()

	if err := h.registry.Remove(turnCtx, conn.id); err != nil {
		h.logger.Warn("failed to unregister connection", "connection_id", conn.id, "error", err)
	}
	h.logger.Info("client disconnected", "connection_id", conn.id)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *wsConn) {
	conn.conn.SetReadLimit(maxTurnBytes)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		_, payload, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read error", "connection_id", conn.id, "error", err)
			}
			return
		}

		var req turnRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			conn.Push(errorEvent{Type: "error", Error: "Message is required"})
			continue
		}
		if req.Action != "sendMessage" {
			conn.Push(errorEvent{Type: "error", Error: "Unknown action"})
			continue
		}

		// One goroutine per turn; per-session ordering is enforced by
		// the dispatcher's keyed lock, not by this loop.
		turns.Add(1)
		go func() {
			defer turns.Done()
			h.dispatcher.HandleTurn(ctx, conn, &req)
		}()
	}
}

func (h *WSHandler) pingLoop(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
