package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
	"github.com/courierchat/courier/internal/repository"
	"github.com/courierchat/courier/pkg/apperr"
)

var (
	ErrCannotMessageSelf    = fmt.Errorf("%w: cannot start a conversation with yourself", apperr.ErrValidation)
	ErrEmptyMessage         = fmt.Errorf("%w: message needs text or a file", apperr.ErrValidation)
	ErrUnknownKind          = fmt.Errorf("%w: unknown message kind", apperr.ErrValidation)
	ErrReceiverMismatch     = fmt.Errorf("%w: receiver is not the other participant", apperr.ErrValidation)
	ErrUserNotFound         = fmt.Errorf("user %w", apperr.ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", apperr.ErrNotFound)
	ErrNotParticipant       = fmt.Errorf("%w: not a participant of this conversation", apperr.ErrPermissionDenied)
)

// Notifier broadcasts real-time events to connected clients. Calls happen
// inside the per-conversation critical section, so the order of calls for
// one conversation matches the order changes were persisted in.
type Notifier interface {
	MessageReceived(msg *domain.Message, conv *domain.Conversation)
	MessagesDelivered(conv *domain.Conversation, receiverID uuid.UUID, msgs []domain.Message)
	MessagesRead(conv *domain.Conversation, readerID uuid.UUID, msgs []domain.Message)
	ConversationUpdated(conv *domain.Conversation)
}

// conversationStripes is the number of lock stripes serializing actions per
// conversation. Actions on different conversations run in parallel unless
// they happen to share a stripe.
const conversationStripes = 64

// ChatService is the single choke point between client actions and the
// message store. Every send/read/delivered transition passes through here
// before any event is emitted.
type ChatService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	userRepo repository.UserRepository

	notifier     Notifier
	storeTimeout time.Duration

	locks [conversationStripes]sync.Mutex
}

func NewChatService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	storeTimeout time.Duration,
) *ChatService {
	return &ChatService{
		convRepo:     convRepo,
		msgRepo:      msgRepo,
		userRepo:     userRepo,
		storeTimeout: storeTimeout,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendInput struct {
	ReceiverID uuid.UUID          `json:"receiver_id"`
	Content    string             `json:"content"`
	Kind       domain.MessageKind `json:"kind"`
	File       *domain.FileMeta   `json:"file,omitempty"`
}

type MessageListResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetOrCreateConversation finds or creates the conversation between two
// users. Concurrent calls with the same pair converge on one row: a lost
// create race falls back to the winner's conversation.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrCannotMessageSelf
	}

	other, err := s.userRepo.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, s.storeErr("looking up user", err)
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	userA, userB := domain.CanonicalPair(userID, otherUserID)

	conv, err := s.convRepo.GetByUsers(ctx, userA, userB)
	if err != nil {
		return nil, s.storeErr("looking up conversation", err)
	}
	if conv != nil {
		fillOther(conv, otherUserID, other)
		return conv, nil
	}

	now := time.Now()
	conv = &domain.Conversation{
		ID:        uuid.New(),
		UserAID:   userA,
		UserBID:   userB,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		// Unique (user_a, user_b) means a concurrent creator may have won.
		existing, lookupErr := s.convRepo.GetByUsers(ctx, userA, userB)
		if lookupErr == nil && existing != nil {
			fillOther(existing, otherUserID, other)
			return existing, nil
		}
		return nil, s.storeErr("creating conversation", err)
	}

	fillOther(conv, otherUserID, other)
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeErr("listing conversations", err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

// ConversationIDs lists every conversation the user participates in.
// The ws layer uses it to join all rooms on (re)connect.
func (s *ChatService) ConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.convRepo.ListIDsByUser(ctx, userID)
	if err != nil {
		return nil, s.storeErr("listing conversation ids", err)
	}
	return ids, nil
}

// Send validates, persists and fans out a new message. The message is
// created at status "sent"; the receiver's unread counter and the
// conversation summary move in the same store transaction. Nothing is
// emitted when persistence fails.
func (s *ChatService) Send(ctx context.Context, senderID, conversationID uuid.UUID, in SendInput) (*domain.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
	}
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if in.Content == "" && in.File == nil {
		return nil, ErrEmptyMessage
	}

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	receiverID, _ := conv.OtherParticipant(senderID)
	if in.ReceiverID != uuid.Nil && in.ReceiverID != receiverID {
		return nil, ErrReceiverMismatch
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Kind:           kind,
		File:           in.File,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now(),
	}
	if in.Content != "" {
		content := in.Content
		msg.Content = &content
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	updated, err := s.msgRepo.CreateWithConversation(sctx, msg)
	if err != nil {
		return nil, s.storeErr("persisting message", err)
	}

	if s.notifier != nil {
		s.notifier.MessageReceived(msg, updated)
		s.notifier.ConversationUpdated(updated)
	}
	return msg, nil
}

// ListMessages returns paginated history, oldest first within the page.
// When the caller is fetching messages addressed to them, everything still
// at "sent" is lazily marked delivered.
func (s *ChatService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, before *uuid.UUID, limit int) (*MessageListResponse, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, err := s.msgRepo.ListByConversation(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, s.storeErr("listing messages", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	// Fetching history counts as delivery for the receiving side.
	if err := s.MarkDelivered(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].ReceiverID == userID && messages[i].Status == domain.StatusSent {
			messages[i].Status = domain.StatusDelivered
		}
	}

	return &MessageListResponse{Messages: messages, HasMore: hasMore}, nil
}

// MarkDelivered advances every sent message addressed to receiverID.
// Counters don't move; delivered is informational. A call with nothing to
// advance is a silent no-op and emits nothing.
func (s *ChatService) MarkDelivered(ctx context.Context, conversationID, receiverID uuid.UUID) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(receiverID) {
		return ErrNotParticipant
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	msgs, err := s.msgRepo.MarkDelivered(sctx, conversationID, receiverID)
	if err != nil {
		return s.storeErr("marking delivered", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	if s.notifier != nil {
		s.notifier.MessagesDelivered(conv, receiverID, msgs)
	}
	return nil
}

// MarkRead advances every sent/delivered message addressed to readerID and
// resets the reader's unread counter. Concurrent calls from two sessions of
// the same user are idempotent: whoever runs second finds nothing to
// transition and emits nothing.
func (s *ChatService) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return ErrNotParticipant
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	msgs, updated, err := s.msgRepo.MarkRead(sctx, conversationID, readerID, time.Now())
	if err != nil {
		return s.storeErr("marking read", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	if s.notifier != nil {
		s.notifier.MessagesRead(updated, readerID, msgs)
		s.notifier.ConversationUpdated(updated)
	}
	return nil
}

func (s *ChatService) conversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("looking up conversation", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *ChatService) lockFor(conversationID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(conversationID[:])
	return &s.locks[h.Sum32()%conversationStripes]
}

func (s *ChatService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *ChatService) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", apperr.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fillOther(conv *domain.Conversation, otherUserID uuid.UUID, other *domain.User) {
	conv.OtherUserID = otherUserID
	conv.OtherUserUsername = other.Username
	conv.OtherUserDisplayName = other.DisplayName
}
