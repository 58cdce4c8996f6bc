package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tcmartin/upgraderunner/pkg/logging"
	"github.com/tcmartin/upgraderunner/pkg/workflow"
)

// WebSocketHub broadcasts engine events to all connected clients. There is
// only one workflow, so every client receives every event; no subscription
// protocol is needed.
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu          sync.RWMutex
	connections map[*websocket.Conn]*wsClient
	closed      bool
}

// wsClient serializes writes to one connection. gorilla/websocket allows at
// most one concurrent writer per connection, and the snapshot write, event
// broadcasts and the keepalive ping all run on different goroutines.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// wsMessage is the envelope sent to WebSocket clients.
type wsMessage struct {
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Event     *workflow.Event    `json:"event,omitempty"`
	Snapshot  *workflow.Snapshot `json:"snapshot,omitempty"`
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(logger logging.Logger) *WebSocketHub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Token auth happens before the upgrade; origin is not
				// restricted.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:      logger,
		connections: make(map[*websocket.Conn]*wsClient),
	}
}

// HandleConnection upgrades the request and serves the connection until the
// client disconnects. The current snapshot is sent first so clients never
// start from a blank state.
func (h *WebSocketHub) HandleConnection(w http.ResponseWriter, r *http.Request, snapshot workflow.Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.connections[conn] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.connections, conn)
		h.mu.Unlock()
	}()

	h.send(client, wsMessage{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Snapshot:  &snapshot,
	})

	go h.pingRoutine(client)

	// Drain client messages to detect disconnects; the protocol itself is
	// server-to-client only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", logging.Field{Key: "error", Value: err.Error()})
			}
			return
		}
	}
}

// Broadcast sends an engine event to every connected client.
func (h *WebSocketHub) Broadcast(event workflow.Event) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.connections))
	for _, client := range h.connections {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := wsMessage{
		Type:      "event",
		Timestamp: time.Now(),
		Event:     &event,
	}
	for _, client := range clients {
		h.send(client, msg)
	}
}

// send writes one message, dropping the connection on failure.
func (h *WebSocketHub) send(client *wsClient, msg wsMessage) {
	client.writeMu.Lock()
	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := client.conn.WriteJSON(msg)
	client.writeMu.Unlock()

	if err != nil {
		h.logger.Debug("failed to send WebSocket message", logging.Field{Key: "error", Value: err.Error()})
		h.remove(client.conn)
	}
}

// remove drops a connection from the hub and closes it.
func (h *WebSocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.connections, conn)
	h.mu.Unlock()
	conn.Close()
}

// pingRoutine sends periodic ping messages to keep the connection alive.
func (h *WebSocketHub) pingRoutine(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		_, alive := h.connections[client.conn]
		h.mu.RUnlock()
		if !alive {
			return
		}

		client.writeMu.Lock()
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := client.conn.WriteMessage(websocket.PingMessage, nil)
		client.writeMu.Unlock()

		if err != nil {
			h.remove(client.conn)
			return
		}
	}
}

// ConnectedClients returns the number of connected clients.
func (h *WebSocketHub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects all clients and rejects new connections.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn := range h.connections {
		conn.Close()
	}
	h.connections = make(map[*websocket.Conn]*wsClient)
}
