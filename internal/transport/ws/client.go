package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/courierchat/courier/internal/service"
	"github.com/courierchat/courier/pkg/apperr"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Client represents a single WebSocket connection. One user may hold many
// of these at once; each carries its own connection id.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     uuid.UUID
	userID uuid.UUID

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.New(),
		userID: userID,
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}
}

// close signals shutdown exactly once, no matter how many paths (hub drop,
// pump exit) race to it. The send channel is left open: a ReadPump handler
// still in flight may enqueue a late frame, which is simply discarded with
// the client. Closing it would turn that race into a panic.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump reads events from the WebSocket and routes them. On any exit it
// hands the connection back to the hub, which unregisters and leaves all
// rooms unconditionally.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Printf("ws: client %s disconnected", c.id)
			} else {
				log.Printf("ws: read error from %s: %v", c.id, err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				log.Printf("ws: write error to %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Printf("ws: ping error to %s: %v", c.id, err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeConversationJoin:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.join payload")
			return
		}
		c.hub.rooms.Join(p.ConversationID, c)
		log.Printf("ws: %s joined conversation %s", c.userID, p.ConversationID)

	case EventTypeConversationLeave:
		var p ConversationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid conversation.leave payload")
			return
		}
		c.hub.rooms.Leave(p.ConversationID, c.id)

	case EventTypeConversationJoinAll:
		n, err := c.hub.JoinAll(context.Background(), c)
		if err != nil {
			log.Printf("ws: joinall for %s: %v", c.userID, err)
			c.sendError(apperr.Code(err), "could not join conversations")
			return
		}
		log.Printf("ws: %s joined %d conversations", c.userID, n)

	case EventTypeMessageSend:
		if event.ConversationID == nil {
			c.sendError("INVALID_PAYLOAD", "conversation_id required for message.send")
			return
		}
		var p MessageSendPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid message.send payload")
			return
		}
		in := service.SendInput{
			ReceiverID: p.ReceiverID,
			Content:    p.Content,
			Kind:       p.Kind,
			File:       p.File,
		}
		_, err := c.hub.relay.Send(context.Background(), c.userID, *event.ConversationID, in)
		if err != nil {
			c.sendError(apperr.Code(err), err.Error())
		}
		// The accepted message reaches this connection through room
		// fan-out, carrying its durable id for client-side dedup.

	case EventTypeMessageRead:
		if event.ConversationID == nil {
			c.sendError("INVALID_PAYLOAD", "conversation_id required for message.read")
			return
		}
		if err := c.hub.relay.MarkRead(context.Background(), *event.ConversationID, c.userID); err != nil {
			c.sendError(apperr.Code(err), err.Error())
		}

	case EventTypeTypingStart, EventTypeTypingStop:
		if event.ConversationID == nil {
			c.sendError("INVALID_PAYLOAD", "conversation_id required for typing events")
			return
		}
		c.hub.HandleTyping(c, *event.ConversationID, event.Type == EventTypeTypingStart)

	case EventTypePing:
		c.sendPong()
		if c.hub.presence != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := c.hub.presence.Heartbeat(ctx, c.userID); err != nil {
					log.Printf("ws: presence heartbeat for %s: %v", c.userID, err)
				}
			}()
		}

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(Event{Type: EventTypePong})
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, nil, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue queues an outbound frame. Frames for a connection that already
// shut down, or whose buffer is full, are dropped.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}
