package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeConversationJoin    = "conversation.join"
	EventTypeConversationJoinAll = "conversation.joinall"
	EventTypeConversationLeave   = "conversation.leave"
	EventTypeMessageSend         = "message.send"
	EventTypeMessageRead         = "message.read"
	EventTypeTypingStart         = "typing.start"
	EventTypeTypingStop          = "typing.stop"
	EventTypePing                = "ping"
)

// Event types - Server → Client
const (
	EventTypeMessageReceived     = "message.received"
	EventTypeMessagesRead        = "messages.read"
	EventTypeMessagesDelivered   = "messages.delivered"
	EventTypeConversationUpdated = "conversation.updated"
	EventTypeTyping              = "typing"
	EventTypePresence            = "presence"
	EventTypePong                = "pong"
	EventTypeError               = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type ConversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type MessageSendPayload struct {
	ReceiverID uuid.UUID          `json:"receiver_id,omitempty"`
	Content    string             `json:"content"`
	Kind       domain.MessageKind `json:"kind,omitempty"`
	File       *domain.FileMeta   `json:"file,omitempty"`
}

// --- Server → Client payloads ---

type MessagePayload struct {
	domain.Message
}

// ReadPayload carries the full updated message list so the other side can
// render read receipts without refetching.
type ReadPayload struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	ReadBy         uuid.UUID        `json:"read_by"`
	Messages       []domain.Message `json:"messages"`
}

type DeliveredPayload struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	DeliveredTo    uuid.UUID        `json:"delivered_to"`
	Messages       []domain.Message `json:"messages"`
}

type ConversationUpdatedPayload struct {
	domain.Conversation
}

type TypingPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

type PresencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"` // "online" | "offline"
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, conversationID *uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().Unix(),
	}, nil
}
