// Package ws streams saga events to connected operator websockets.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/narenallam/e-commerce-saga/internal/events"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

// Hub manages websocket clients and broadcasts saga events to them.
type Hub struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHub constructs a Hub; call Run in its own goroutine.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Run processes register/unregister/broadcast events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				conn.Close()
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements events.Sink. A full broadcast buffer drops the event
// rather than stalling saga execution.
func (h *Hub) Publish(_ context.Context, ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Warn("encode websocket event")
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.log.Warn("websocket broadcast buffer full, event dropped")
	}
}

// Handler upgrades the connection and registers it with the hub.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		h.register <- conn

		// Reads are discarded; the read loop only detects disconnects.
		go func() {
			defer func() { h.unregister <- conn }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}
