package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// GetByUsers expects the canonical pair order (see domain.CanonicalPair).
	GetByUsers(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	ListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type MessageRepository interface {
	// CreateWithConversation inserts the message and, in the same
	// transaction, bumps the receiver's unread counter and the
	// conversation summary. Returns the updated conversation.
	CreateWithConversation(ctx context.Context, msg *domain.Message) (*domain.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	// MarkDelivered advances every sent message addressed to receiverID and
	// returns the messages that actually changed, oldest first.
	MarkDelivered(ctx context.Context, conversationID, receiverID uuid.UUID) ([]domain.Message, error)
	// MarkRead advances every sent/delivered message addressed to readerID,
	// stamps readAt, and resets the reader's unread counter in the same
	// transaction. Returns the changed messages and the updated conversation.
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, readAt time.Time) ([]domain.Message, *domain.Conversation, error)
}

type PresenceRepository interface {
	SetOnline(ctx context.Context, userID uuid.UUID, ttl time.Duration) error
	Refresh(ctx context.Context, userID uuid.UUID, ttl time.Duration) error
	SetOffline(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	LastSeen(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}
