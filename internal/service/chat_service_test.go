package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierchat/courier/internal/domain"
	"github.com/courierchat/courier/pkg/apperr"
)

// memStore is an in-memory stand-in for the postgres repositories. It keeps
// the same contracts: CreateWithConversation moves the unread counter and
// summary together, MarkRead returns only the rows that actually changed.
type memStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
	convs map[uuid.UUID]*domain.Conversation
	msgs  []*domain.Message

	err          error // returned by every call when set
	onCreateConv func(conv *domain.Conversation) error
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[uuid.UUID]*domain.User),
		convs: make(map[uuid.UUID]*domain.Conversation),
	}
}

func (m *memStore) addUser(username string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &domain.User{ID: uuid.New(), Username: username, DisplayName: username, Email: username + "@example.com"}
	m.users[u.ID] = u
	return u.ID
}

// UserRepository

func (m *memStore) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// convStore wraps memStore to satisfy ConversationRepository without the
// Create signature clashing with UserRepository's.
type convStore struct{ *memStore }

func (m convStore) Create(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.onCreateConv != nil {
		if err := m.onCreateConv(conv); err != nil {
			return err
		}
	}
	for _, c := range m.convs {
		if c.UserAID == conv.UserAID && c.UserBID == conv.UserBID {
			return errors.New("duplicate pair")
		}
	}
	cp := *conv
	m.convs[conv.ID] = &cp
	return nil
}

func (m convStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m convStore) GetByUsers(_ context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.convs {
		if c.UserAID == userA && c.UserBID == userB {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m convStore) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Conversation
	for _, c := range m.convs {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m convStore) ListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	convs, err := m.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// msgStore satisfies MessageRepository.
type msgStore struct{ *memStore }

func (m msgStore) CreateWithConversation(_ context.Context, msg *domain.Message) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	conv, ok := m.convs[msg.ConversationID]
	if !ok {
		return nil, errors.New("conversation missing")
	}
	cp := *msg
	m.msgs = append(m.msgs, &cp)

	conv.LastMessage = msg.Preview()
	id := msg.ID
	conv.LastMessageID = &id
	conv.UpdatedAt = msg.CreatedAt
	conv.AddUnread(msg.ReceiverID, 1)
	out := *conv
	return &out, nil
}

func (m msgStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, nil
}

func (m msgStore) ListByConversation(_ context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cut := len(m.msgs)
	if before != nil {
		for i, msg := range m.msgs {
			if msg.ID == *before {
				cut = i
				break
			}
		}
	}
	var all []domain.Message
	for _, msg := range m.msgs[:cut] {
		if msg.ConversationID == conversationID {
			all = append(all, *msg)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m msgStore) MarkDelivered(_ context.Context, conversationID, receiverID uuid.UUID) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var changed []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.ReceiverID == receiverID && msg.Status == domain.StatusSent {
			msg.Status = domain.StatusDelivered
			changed = append(changed, *msg)
		}
	}
	return changed, nil
}

func (m msgStore) MarkRead(_ context.Context, conversationID, readerID uuid.UUID, readAt time.Time) ([]domain.Message, *domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	conv, ok := m.convs[conversationID]
	if !ok {
		return nil, nil, errors.New("conversation missing")
	}
	var changed []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.ReceiverID == readerID && msg.Status != domain.StatusRead {
			msg.Status = domain.StatusRead
			at := readAt
			msg.ReadAt = &at
			changed = append(changed, *msg)
		}
	}
	if len(changed) > 0 {
		conv.ResetUnread(readerID)
		conv.UpdatedAt = readAt
	}
	out := *conv
	return changed, &out, nil
}

// recordingNotifier captures every emitted event in order.
type recordingNotifier struct {
	mu        sync.Mutex
	received  []*domain.Message
	delivered [][]domain.Message
	read      [][]domain.Message
	updated   []*domain.Conversation
}

func (n *recordingNotifier) MessageReceived(msg *domain.Message, _ *domain.Conversation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, msg)
}

func (n *recordingNotifier) MessagesDelivered(_ *domain.Conversation, _ uuid.UUID, msgs []domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, msgs)
}

func (n *recordingNotifier) MessagesRead(_ *domain.Conversation, _ uuid.UUID, msgs []domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.read = append(n.read, msgs)
}

func (n *recordingNotifier) ConversationUpdated(conv *domain.Conversation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, conv)
}

func (n *recordingNotifier) counts() (received, delivered, read, updated int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received), len(n.delivered), len(n.read), len(n.updated)
}

func newTestService(t *testing.T) (*ChatService, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore()
	svc := NewChatService(convStore{store}, msgStore{store}, store, 0)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	return svc, store, notifier
}

func mustConversation(t *testing.T, svc *ChatService, a, b uuid.UUID) *domain.Conversation {
	t.Helper()
	conv, err := svc.GetOrCreateConversation(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func TestGetOrCreateConversationConverges(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")

	c1 := mustConversation(t, svc, alice, bob)
	c2 := mustConversation(t, svc, bob, alice)
	c3 := mustConversation(t, svc, alice, bob)

	assert.Equal(t, c1.ID, c2.ID, "both directions must land on the same conversation")
	assert.Equal(t, c1.ID, c3.ID)
	assert.True(t, c1.UserAID.String() < c1.UserBID.String(), "participants must be stored in canonical order")

	// Joined fields face whoever asked.
	assert.Equal(t, bob, c1.OtherUserID)
	assert.Equal(t, alice, c2.OtherUserID)
}

func TestGetOrCreateConversationRejectsSelf(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")

	_, err := svc.GetOrCreateConversation(context.Background(), alice, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetOrCreateConversationUnknownUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")

	_, err := svc.GetOrCreateConversation(context.Background(), alice, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetOrCreateConversationLostRace(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	userA, userB := domain.CanonicalPair(alice, bob)

	// A concurrent creator wins between our lookup and our insert.
	winner := &domain.Conversation{ID: uuid.New(), UserAID: userA, UserBID: userB}
	store.onCreateConv = func(_ *domain.Conversation) error {
		store.convs[winner.ID] = winner
		return errors.New("duplicate key value violates unique constraint")
	}

	conv, err := svc.GetOrCreateConversation(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, conv.ID, "loser must converge on the winner's conversation")
}

func TestSendPersistsAndNotifies(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	msg, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "hello bob"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, bob, msg.ReceiverID, "receiver derives from the conversation")
	assert.Equal(t, domain.KindText, msg.Kind, "kind defaults to text")
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hello bob", *msg.Content)
	assert.Nil(t, msg.ReadAt)

	updated, err := convStore{store}.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UnreadFor(bob), "receiver unread moves with the insert")
	assert.Equal(t, 0, updated.UnreadFor(alice), "sender unread never moves on send")
	assert.Equal(t, "hello bob", updated.LastMessage)
	require.NotNil(t, updated.LastMessageID)
	assert.Equal(t, msg.ID, *updated.LastMessageID)

	received, _, _, convUpdated := notifier.counts()
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, convUpdated)
}

func TestSendEmptyMessage(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, store.msgs, "rejected sends must not persist anything")
	received, delivered, read, updated := notifier.counts()
	assert.Zero(t, received+delivered+read+updated, "rejected sends must not emit events")

	updatedConv, getErr := convStore{store}.GetByID(context.Background(), conv.ID)
	require.NoError(t, getErr)
	assert.Zero(t, updatedConv.UnreadFor(bob))
}

func TestSendFileOnlyMessage(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	file := &domain.FileMeta{URL: "/uploads/report.pdf", Name: "report.pdf", Size: 1024, MimeType: "application/pdf"}
	msg, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Kind: domain.KindDocument, File: file})
	require.NoError(t, err)
	assert.Nil(t, msg.Content)
	require.NotNil(t, msg.File)
	assert.Equal(t, "report.pdf", msg.File.Name)

	updated, err := convStore{store}.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", updated.LastMessage, "file name stands in for the preview")
}

func TestSendUnknownKind(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "x", Kind: "sticker"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendReceiverMismatch(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	mallory := store.addUser("mallory")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "x", ReceiverID: mallory})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendNotParticipant(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	mallory := store.addUser("mallory")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), mallory, conv.ID, SendInput{Content: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	received, _, _, _ := notifier.counts()
	assert.Zero(t, received)
}

func TestSendUnknownConversation(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")

	_, err := svc.Send(context.Background(), alice, uuid.New(), SendInput{Content: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListMessagesLazyDelivery(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	for i := 0; i < 3; i++ {
		_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	// The sender fetching history does not advance anything: the pending
	// messages are addressed to bob, not alice.
	resp, err := svc.ListMessages(context.Background(), alice, conv.ID, nil, 50)
	require.NoError(t, err)
	for _, m := range resp.Messages {
		assert.Equal(t, domain.StatusSent, m.Status)
	}
	_, delivered, _, _ := notifier.counts()
	assert.Zero(t, delivered)

	// The receiver fetching history counts as delivery.
	resp, err = svc.ListMessages(context.Background(), bob, conv.ID, nil, 50)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 3)
	for _, m := range resp.Messages {
		assert.Equal(t, domain.StatusDelivered, m.Status)
	}
	_, delivered, _, _ = notifier.counts()
	assert.Equal(t, 1, delivered, "one batch event for the whole sweep")

	// Delivery does not touch unread.
	updated, err := convStore{store}.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.UnreadFor(bob))

	// A second fetch finds nothing pending and emits nothing.
	_, err = svc.ListMessages(context.Background(), bob, conv.ID, nil, 50)
	require.NoError(t, err)
	_, delivered, _, _ = notifier.counts()
	assert.Equal(t, 1, delivered)
}

func TestListMessagesPagination(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		msg, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	// Newest page first, oldest-first within the page.
	resp, err := svc.ListMessages(context.Background(), alice, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, ids[3], resp.Messages[0].ID)
	assert.Equal(t, ids[4], resp.Messages[1].ID)

	// Walk backwards with the cursor.
	before := resp.Messages[0].ID
	resp, err = svc.ListMessages(context.Background(), alice, conv.ID, &before, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, ids[1], resp.Messages[0].ID)
	assert.Equal(t, ids[2], resp.Messages[1].ID)

	before = resp.Messages[0].ID
	resp, err = svc.ListMessages(context.Background(), alice, conv.ID, &before, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.False(t, resp.HasMore)
	assert.Equal(t, ids[0], resp.Messages[0].ID)
}

func TestMarkReadBatch(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	// Three messages pile up while bob is offline.
	for i := 0; i < 3; i++ {
		_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	require.NoError(t, svc.MarkRead(context.Background(), conv.ID, bob))

	for _, msg := range store.msgs {
		assert.Equal(t, domain.StatusRead, msg.Status)
		require.NotNil(t, msg.ReadAt, "read implies a read timestamp")
	}
	updated, err := convStore{store}.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.UnreadFor(bob))

	_, _, read, convUpdated := notifier.counts()
	assert.Equal(t, 1, read, "one batch event covering all three messages")
	assert.Len(t, notifier.read[0], 3)
	assert.Equal(t, 3+1, convUpdated, "three sends plus one read sweep")
}

func TestMarkReadIdempotent(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), conv.ID, bob))
	_, _, read1, updated1 := notifier.counts()

	// A second sweep (another tab, a retry) finds nothing to transition.
	require.NoError(t, svc.MarkRead(context.Background(), conv.ID, bob))
	_, _, read2, updated2 := notifier.counts()

	assert.Equal(t, read1, read2, "repeat read must not emit duplicate events")
	assert.Equal(t, updated1, updated2)
	require.NotNil(t, store.msgs[0].ReadAt)
}

func TestMarkReadConcurrentSessions(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "hello"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.MarkRead(context.Background(), conv.ID, bob))
		}()
	}
	wg.Wait()

	_, _, read, _ := notifier.counts()
	assert.Equal(t, 1, read, "exactly one session wins the transition")
}

func TestMarkDeliveredNoOpEmitsNothing(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	require.NoError(t, svc.MarkDelivered(context.Background(), conv.ID, bob))
	_, delivered, _, _ := notifier.counts()
	assert.Zero(t, delivered)
}

func TestMarkReadNotParticipant(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	mallory := store.addUser("mallory")
	conv := mustConversation(t, svc, alice, bob)

	err := svc.MarkRead(context.Background(), conv.ID, mallory)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestStoreTimeoutSurfacesAsUnavailable(t *testing.T) {
	svc, store, notifier := newTestService(t)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conv := mustConversation(t, svc, alice, bob)

	store.err = context.DeadlineExceeded

	_, err := svc.Send(context.Background(), alice, conv.ID, SendInput{Content: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	received, _, _, updated := notifier.counts()
	assert.Zero(t, received+updated, "a failed write emits nothing")
}

func TestListConversationsEmpty(t *testing.T) {
	svc, store, _ := newTestService(t)
	alice := store.addUser("alice")

	convs, err := svc.ListConversations(context.Background(), alice)
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}
