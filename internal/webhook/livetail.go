package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/convoengine/internal/domain"
)

func writeDeadline() time.Time { return time.Now().Add(5 * time.Second) }

// Hub is an admin-only live tail of webhook audit events, mirroring the
// teacher's gateway broadcast-to-clients pattern but scoped to a single
// read-only event stream instead of a bidirectional RPC channel.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
}

// NewHub builds a Hub with an origin-permissive upgrader, matching the
// teacher's default of allowing all origins when none are configured.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it for broadcast. The
// client is not expected to send anything; reads only drain control frames
// and detect disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("webhook.livetail_upgrade_failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes an audited webhook event to every connected admin
// client. Each write has a 5s deadline, so a slow or dead client holds up
// the audit path for at most that long; a failed write closes that
// connection, and its read loop in ServeHTTP then unregisters it.
func (h *Hub) Broadcast(event *domain.WebhookEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(writeDeadline())
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			go conn.Close()
		}
	}
}
