// Package transport binds the protocol router to a physical
// connection over gorilla/websocket, grounded on the teacher's
// src/server/hub.go and client.go: a register/unregister hub around a
// readPump/writePump pair per connection, generalized here from
// "broadcast one shared state to every viewer" to "route each
// connection's own multiplexed request/response/event traffic".
package transport

import (
	"sync"

	"github.com/backtest-replay/server/internal/logger"
)

// Hub tracks every live connection so the admin control plane
// (internal/control) can enumerate or force-close one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logger.Logger
}

// NewHub returns an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.log.Info("connection registered: %s", c.ID)
}

// unregister drops c from the registry. It does not close c.send: a
// pending replay running on c's own dispatch goroutine may still be
// emitting events into it, and c.conn.Close() (called by readPump's
// deferred cleanup) is what actually unblocks writePump, by failing
// its next write.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		h.log.Info("connection unregistered: %s", c.ID)
	}
}

// Get looks up a live connection by its transport-level id.
func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Disconnect force-closes a live connection, used by the admin control
// plane's DisconnectConnection RPC.
func (h *Hub) Disconnect(id string) bool {
	c, ok := h.Get(id)
	if !ok {
		return false
	}
	c.conn.Close()
	return true
}

// IDs returns the transport-level ids of every live connection.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}
