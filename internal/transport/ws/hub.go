package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
	"github.com/courierchat/courier/internal/service"
)

// Relay is the slice of the chat service the ws layer drives: inbound
// socket actions funnel into it, and joinAll pulls conversation membership
// from it on (re)connect.
type Relay interface {
	Send(ctx context.Context, senderID, conversationID uuid.UUID, in service.SendInput) (*domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) error
	MarkDelivered(ctx context.Context, conversationID, receiverID uuid.UUID) error
	ConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceTracker mirrors connection lifecycle into the presence store.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Heartbeat(ctx context.Context, userID uuid.UUID) error
}

// fanout is one outbound delivery: the resolved target set is every room
// member of conversationID plus every live connection of userIDs,
// deduplicated by connection.
type fanout struct {
	conversationID *uuid.UUID
	userIDs        []uuid.UUID
	exclude        *uuid.UUID // connection to skip (e.g. typing origin)
	data           []byte
}

// Hub owns the fan-out path. All deliveries pass through one FIFO channel,
// so events for a conversation reach each subscriber in the order the
// relay emitted them.
type Hub struct {
	registry *SessionRegistry
	rooms    *Rooms
	relay    Relay
	presence PresenceTracker

	register   chan *Client
	unregister chan *Client
	broadcast  chan *fanout
}

func NewHub() *Hub {
	return &Hub{
		registry:   NewSessionRegistry(),
		rooms:      NewRooms(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *fanout, 256),
	}
}

func (h *Hub) SetRelay(r Relay)              { h.relay = r }
func (h *Hub) SetPresence(p PresenceTracker) { h.presence = p }

// Run starts the Hub's main event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			first := h.registry.Register(client)
			log.Printf("ws hub: user %s connected via %s (%d conns total)", client.userID, client.id, h.registry.Len())
			if first {
				h.setPresence(client.userID, true)
				h.broadcastPresence(client.userID, "online")
			}

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// drop removes a connection from both registries and closes it. Safe to
// call more than once for the same connection.
func (h *Hub) drop(c *Client) {
	removed, last := h.registry.Unregister(c.id)
	h.rooms.LeaveAll(c.id)
	if removed == nil {
		return
	}
	c.close()
	log.Printf("ws hub: user %s disconnected %s (%d conns total)", c.userID, c.id, h.registry.Len())
	if last {
		h.setPresence(c.userID, false)
		h.broadcastPresence(c.userID, "offline")
	}
}

// deliver resolves the target set and writes to each connection. A full
// send buffer means the client stopped draining; that one connection is
// dropped and fan-out continues with the rest.
func (h *Hub) deliver(msg *fanout) {
	targets := make(map[uuid.UUID]*Client)
	if msg.conversationID != nil {
		for _, c := range h.rooms.MembersOf(*msg.conversationID) {
			targets[c.id] = c
		}
	}
	for _, userID := range msg.userIDs {
		for _, c := range h.registry.ConnectionsFor(userID) {
			targets[c.id] = c
		}
	}

	for id, c := range targets {
		if msg.exclude != nil && id == *msg.exclude {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			log.Printf("ws hub: dropping slow connection %s (user %s)", c.id, c.userID)
			h.drop(c)
		}
	}
}

// BroadcastToConversation fans an event out to the conversation's room
// members plus every live connection of userIDs.
func (h *Hub) BroadcastToConversation(conversationID uuid.UUID, userIDs []uuid.UUID, event *Event, excludeConn *uuid.UUID) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: marshal error: %v", err)
		return
	}
	h.broadcast <- &fanout{
		conversationID: &conversationID,
		userIDs:        userIDs,
		exclude:        excludeConn,
		data:           data,
	}
}

// BroadcastToUsers sends an event to every live connection of the given
// users, independent of room membership.
func (h *Hub) BroadcastToUsers(userIDs []uuid.UUID, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: marshal error: %v", err)
		return
	}
	h.broadcast <- &fanout{userIDs: userIDs, data: data}
}

// JoinAll subscribes the connection to every conversation its user
// participates in. Idempotent: rejoining an already-joined room changes
// nothing, so flaky reconnects can call this freely.
func (h *Hub) JoinAll(ctx context.Context, c *Client) (int, error) {
	ids, err := h.relay.ConversationIDs(ctx, c.userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		h.rooms.Join(id, c)
	}
	return len(ids), nil
}

// HandleTyping fans a transient typing signal out to room members,
// excluding the originating connection. Nothing is persisted.
func (h *Hub) HandleTyping(sender *Client, conversationID uuid.UUID, isTyping bool) {
	evt, err := NewEvent(EventTypeTyping, &conversationID, TypingPayload{
		UserID:   sender.userID,
		IsTyping: isTyping,
	})
	if err != nil {
		return
	}
	h.BroadcastToConversation(conversationID, nil, evt, &sender.id)
}

// broadcastPresence sends online/offline to all connected clients.
func (h *Hub) broadcastPresence(userID uuid.UUID, status string) {
	evt, err := NewEvent(EventTypePresence, nil, PresencePayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.registry.Each(func(c *Client) {
		if c.userID == userID {
			return
		}
		select {
		case c.send <- data:
		default:
		}
	})
}

// setPresence updates the presence store off the hub goroutine so a slow
// store never stalls fan-out.
func (h *Hub) setPresence(userID uuid.UUID, online bool) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var err error
		if online {
			err = h.presence.SetOnline(ctx, userID)
		} else {
			err = h.presence.SetOffline(ctx, userID)
		}
		if err != nil {
			log.Printf("ws hub: presence update for %s: %v", userID, err)
		}
	}()
}
