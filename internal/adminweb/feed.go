// Package adminweb serves the admin live feed: a websocket hub that
// mirrors relayed PRIVMSG lines and session lifecycle events to any
// connected operator dashboard (SPEC_FULL.md §4.11), generalized from
// the hub/register/unregister/broadcast pattern used elsewhere in this
// codebase for push-style fan-out.
package adminweb

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FeedEvent is one line pushed to connected dashboards.
type FeedEvent struct {
	Type      string                 `json:"type"` // "delivery", "session", "ingress"
	Network   string                 `json:"network,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Hub manages websocket connections for the admin live feed.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan FeedEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates a new feed hub. Call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan FeedEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub's single event loop; it owns the clients map so no
// lock is needed for register/unregister/broadcast decisions.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("adminweb: client connected (total: %d)", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("adminweb: client disconnected (total: %d)", n)

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("adminweb: write error: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP connection and registers it with the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("adminweb: upgrade error: %v", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast timestamps and queues an event for every connected dashboard.
// Non-blocking: a full queue drops the event rather than stall the caller.
func (h *Hub) Broadcast(event FeedEvent) {
	event.Timestamp = time.Now()
	select {
	case h.broadcast <- event:
	default:
		log.Printf("adminweb: broadcast queue full, dropping %s event", event.Type)
	}
}

// Delivery reports a formatted PRIVMSG line sent to an IRC channel.
func (h *Hub) Delivery(network, channel, line string) {
	h.Broadcast(FeedEvent{
		Type:    "delivery",
		Network: network,
		Channel: channel,
		Data:    map[string]interface{}{"line": line},
	})
}

// Session reports an IRC session lifecycle transition.
func (h *Hub) Session(network, state string) {
	h.Broadcast(FeedEvent{
		Type:    "session",
		Network: network,
		Data:    map[string]interface{}{"state": state},
	})
}

// Ingress reports an accepted or rejected RPC ingress call.
func (h *Hub) Ingress(repoID string, accepted bool, reason string) {
	data := map[string]interface{}{"repo_id": repoID, "accepted": accepted}
	if reason != "" {
		data["reason"] = reason
	}
	h.Broadcast(FeedEvent{Type: "ingress", Data: data})
}

// Stats returns current hub statistics for the /healthz and metrics surface.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(h.clients),
		"broadcast_queue":   len(h.broadcast),
	}
}
