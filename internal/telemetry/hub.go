// Package telemetry streams per-step simulation snapshots to websocket
// subscribers, for dashboards and live inspection tooling.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowworksio/hydronet-simulator/internal/logging"
	"github.com/flowworksio/hydronet-simulator/sim"
)

const writeTimeout = 5 * time.Second

// Hub fans simulation snapshots out to connected websocket clients.
// Slow or dead clients are dropped rather than allowed to stall the
// step loop.
type Hub struct {
	log      logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Snapshots are broadcast-only; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handler upgrades subscribers. Incoming frames are read and discarded
// so that close handshakes and pings are processed.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn(r.Context(), "websocket upgrade failed", logging.String("error", err.Error()))
			return
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.clients[conn] = true
		h.mu.Unlock()
		h.log.Debug(r.Context(), "telemetry client connected", logging.String("remote", conn.RemoteAddr().String()))

		go h.drain(conn)
	})
}

func (h *Hub) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Publish broadcasts one snapshot to every client. Implements
// sim.SnapshotPublisher.
func (h *Hub) Publish(snap sim.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.Error(context.Background(), "snapshot marshal failed", logging.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug(context.Background(), "dropping telemetry client",
				logging.String("remote", conn.RemoteAddr().String()),
				logging.String("error", err.Error()))
			h.remove(conn)
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
	}
}
