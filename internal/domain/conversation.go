package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a two-party thread. Participants are stored in canonical
// order (UserAID < UserBID by uuid string) so one unordered pair maps to at
// most one row.
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	UserAID       uuid.UUID  `json:"user_a_id"`
	UserBID       uuid.UUID  `json:"user_b_id"`
	LastMessage   string     `json:"last_message"`
	LastMessageID *uuid.UUID `json:"last_message_id,omitempty"`
	UnreadA       int        `json:"unread_a"`
	UnreadB       int        `json:"unread_b"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	// Joined fields for frontend
	OtherUserID          uuid.UUID `json:"other_user_id,omitempty"`
	OtherUserUsername    string    `json:"other_username,omitempty"`
	OtherUserDisplayName string    `json:"other_display_name,omitempty"`
}

// CanonicalPair orders two user IDs the way conversations store them.
func CanonicalPair(u1, u2 uuid.UUID) (uuid.UUID, uuid.UUID) {
	if u1.String() > u2.String() {
		return u2, u1
	}
	return u1, u2
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// OtherParticipant returns the participant that is not userID.
// ok is false when userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.UserAID:
		return c.UserBID, true
	case c.UserBID:
		return c.UserAID, true
	}
	return uuid.Nil, false
}

func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	switch userID {
	case c.UserAID:
		return c.UnreadA
	case c.UserBID:
		return c.UnreadB
	}
	return 0
}

// AddUnread bumps the counter for userID. Repositories do this in SQL;
// the helper exists for in-memory stores and tests.
func (c *Conversation) AddUnread(userID uuid.UUID, n int) {
	switch userID {
	case c.UserAID:
		c.UnreadA += n
	case c.UserBID:
		c.UnreadB += n
	}
}

func (c *Conversation) ResetUnread(userID uuid.UUID) {
	switch userID {
	case c.UserAID:
		c.UnreadA = 0
	case c.UserBID:
		c.UnreadB = 0
	}
}
