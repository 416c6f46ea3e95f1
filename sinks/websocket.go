package sinks

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/epic1st/execalgo/audit"
)

// WebSocketBroadcaster is an audit.Sink that fans every event out to all
// currently connected websocket clients, for a live operator dashboard. A
// client whose write fails is dropped. Writes carry no deadline, so a slow
// client holds up Write, and with it the ledger's Record call.
type WebSocketBroadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketBroadcaster creates a broadcaster accepting connections from
// any origin in allowedOrigins (empty means accept all, matching the
// teacher's CORS convention elsewhere in the config package).
func NewWebSocketBroadcaster(allowedOrigins []string) *WebSocketBroadcaster {
	b := &WebSocketBroadcaster{clients: make(map[*websocket.Conn]struct{})}
	b.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return b
}

// ServeHTTP upgrades the connection and registers it as a broadcast target
// until it errors or closes.
func (b *WebSocketBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go b.readUntilClosed(conn)
}

// readUntilClosed discards inbound frames (this is a publish-only feed) and
// deregisters the client once the connection breaks.
func (b *WebSocketBroadcaster) readUntilClosed(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Write broadcasts ev to every connected client.
func (b *WebSocketBroadcaster) Write(ev audit.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
	return nil
}

// Close disconnects every client.
func (b *WebSocketBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.Close()
		delete(b.clients, conn)
	}
	return nil
}
