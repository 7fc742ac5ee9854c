package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindVoice    MessageKind = "voice"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindDocument, KindVoice:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvance reports whether a message may move from s to next.
// Status only moves forward: sent → delivered → read. Skipping delivered
// is allowed, regressing and repeating are not.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// FileMeta describes an uploaded attachment. The blob itself lives outside
// the chat core; messages only carry the reference.
type FileMeta struct {
	URL       string  `json:"url"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	MimeType  string  `json:"mime_type"`
	Thumbnail *string `json:"thumbnail,omitempty"`
	Duration  *int    `json:"duration,omitempty"` // seconds, voice messages
}

type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id"`
	ReceiverID     uuid.UUID     `json:"receiver_id"`
	Content        *string       `json:"content,omitempty"`
	File           *FileMeta     `json:"file,omitempty"`
	Kind           MessageKind   `json:"kind"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
}

// Preview returns the text shown in conversation lists.
func (m *Message) Preview() string {
	if m.Content != nil && *m.Content != "" {
		return *m.Content
	}
	if m.File != nil {
		return m.File.Name
	}
	return ""
}
