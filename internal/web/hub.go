package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlsson/tunesync/internal/bridge"
)

const (
	// clientBuffer is how many events a slow websocket client may lag
	// before events are dropped for it. Events are advisory; the
	// status endpoint is the source of truth.
	clientBuffer = 16

	writeWait = 10 * time.Second
)

// Hub fans out bridge events to connected websocket clients. It
// implements bridge.EventSink; Publish never blocks the engine.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan bridge.Event]struct{}
}

// NewHub creates an event hub with no connected clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[chan bridge.Event]struct{}),
	}
}

// Publish delivers an event to every connected client, dropping it for
// clients whose buffer is full.
func (h *Hub) Publish(ev bridge.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Slow consumer; it can resynchronize via /status.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() chan bridge.Event {
	ch := make(chan bridge.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan bridge.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// handleWS upgrades the connection and streams events until the client
// goes away.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ch := h.register()
	defer func() {
		h.unregister(ch)
		conn.Close()
	}()

	// Reader goroutine: discard incoming frames, detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
