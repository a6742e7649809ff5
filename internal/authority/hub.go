package authority

import (
	"sync"

	"github.com/collabtext/sync/internal/transport"
)

// client is one connected replica, identified by clientKey — a value
// stable for the lifetime of one connection, generated fresh on every
// reconnect. Broadcast exclusion is by clientKey identity, not replicaId:
// a replica can reconnect mid-broadcast and must not be treated as the
// same recipient as its predecessor connection.
type client struct {
	key       string
	replicaID string
	userID    string
	conn      *transport.Conn
}

// hub is the per-library set of connected clients, modeled on the
// teacher's agent Hub (agent/main.go: clients map, register/unregister
// channels, broadcast channel) but generalized from "relay every raw
// frame to everyone" to "send a typed envelope to everyone but the
// sender".
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client // keyed by clientKey
}

func newHub() *hub {
	return &hub{clients: make(map[string]*client)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.key] = c
}

func (h *hub) unregister(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, key)
}

func (h *hub) get(key string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[key]
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// activeReplicaIDs returns the replicaIds of every currently-connected
// client, so the rebase pass can treat a truant-by-lastSeen replica that's
// nonetheless live right now as active.
func (h *hub) activeReplicaIDs() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.clients))
	for _, c := range h.clients {
		out[c.replicaID] = true
	}
	return out
}

// broadcastExcept sends envelope to every connected client except the one
// whose clientKey equals except (pass "" to include everyone).
func (h *hub) broadcastExcept(except string, envelope any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for key, c := range h.clients {
		if key == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.conn.WriteJSON(envelope) // best-effort; a dead conn is cleaned up by its own read loop
	}
}

func (h *hub) send(key string, envelope any) error {
	c := h.get(key)
	if c == nil {
		return nil
	}
	return c.conn.WriteJSON(envelope)
}
