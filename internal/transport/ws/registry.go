package ws

import (
	"sync"

	"github.com/google/uuid"
)

// SessionRegistry maps each user to the set of connections they currently
// hold open (multiple tabs, multiple devices). It is one of the two pieces
// of shared mutable state in the relay; every access goes through the lock.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*Client // userID → connID → client
	owners   map[uuid.UUID]uuid.UUID             // connID → userID
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uuid.UUID]map[uuid.UUID]*Client),
		owners:   make(map[uuid.UUID]uuid.UUID),
	}
}

// Register adds a connection. Registering the same connection twice is a
// no-op. Returns true when this is the user's first live connection, i.e.
// the user just came online.
func (r *SessionRegistry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[c.id]; exists {
		return false
	}

	conns := r.sessions[c.userID]
	if conns == nil {
		conns = make(map[uuid.UUID]*Client)
		r.sessions[c.userID] = conns
	}
	conns[c.id] = c
	r.owners[c.id] = c.userID
	return len(conns) == 1
}

// Unregister removes a connection. Safe to call for a connection that was
// never registered. Returns the client (nil if unknown) and whether this
// was the user's last connection, i.e. the user just went offline.
func (r *SessionRegistry) Unregister(connID uuid.UUID) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[connID]
	if !ok {
		return nil, false
	}
	delete(r.owners, connID)

	conns := r.sessions[userID]
	c := conns[connID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.sessions, userID)
		return c, true
	}
	return c, false
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *SessionRegistry) ConnectionsFor(userID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Len returns the total number of live connections.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// Each calls fn for every live connection. Used for presence broadcast.
func (r *SessionRegistry) Each(fn func(c *Client)) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.owners))
	for _, conns := range r.sessions {
		for _, c := range conns {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range clients {
		fn(c)
	}
}
