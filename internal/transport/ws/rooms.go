package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Rooms maps each conversation to the set of connections subscribed to its
// live events. Membership is purely a function of explicit Join calls — a
// client that never joined sees nothing, no matter what history says.
type Rooms struct {
	mu      sync.RWMutex
	members map[uuid.UUID]map[uuid.UUID]*Client  // convID → connID → client
	joined  map[uuid.UUID]map[uuid.UUID]struct{} // connID → convIDs
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[uuid.UUID]map[uuid.UUID]*Client),
		joined:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Join subscribes the connection to a conversation. Idempotent.
func (r *Rooms) Join(conversationID uuid.UUID, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.members[conversationID]
	if room == nil {
		room = make(map[uuid.UUID]*Client)
		r.members[conversationID] = room
	}
	room[c.id] = c

	convs := r.joined[c.id]
	if convs == nil {
		convs = make(map[uuid.UUID]struct{})
		r.joined[c.id] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave unsubscribes the connection from one conversation. A connection
// that never joined is a no-op, not an error.
func (r *Rooms) Leave(conversationID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conversationID, connID)
}

// LeaveAll unsubscribes the connection everywhere. Called on disconnect,
// unconditionally.
func (r *Rooms) LeaveAll(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joined[connID] {
		r.leaveLocked(conversationID, connID)
	}
}

func (r *Rooms) leaveLocked(conversationID, connID uuid.UUID) {
	room := r.members[conversationID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, conversationID)
	}

	convs := r.joined[connID]
	delete(convs, conversationID)
	if len(convs) == 0 {
		delete(r.joined, connID)
	}
}

// MembersOf returns a snapshot of the conversation's subscribers.
func (r *Rooms) MembersOf(conversationID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.members[conversationID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// Joined returns a snapshot of the conversations a connection subscribes to.
func (r *Rooms) Joined(connID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.joined[connID]))
	for id := range r.joined[connID] {
		out = append(out, id)
	}
	return out
}
