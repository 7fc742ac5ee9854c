package ws

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// MessageReceived reaches room members plus every live connection of both
// participants, so a receiver who never opened this conversation still gets
// a badge update, and the sender's other tabs see their own message.
// Targets are deduplicated by connection; clients dedup replays by message id.
func (n *HubNotifier) MessageReceived(msg *domain.Message, conv *domain.Conversation) {
	evt, err := NewEvent(EventTypeMessageReceived, &msg.ConversationID, MessagePayload{Message: *msg})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToConversation(msg.ConversationID, []uuid.UUID{msg.SenderID, msg.ReceiverID}, evt, nil)

	// Reaching a live connection counts as receipt: sweep the receiver's
	// pending messages to delivered without waiting for a history fetch.
	// Runs off this goroutine because the send that triggered us still
	// holds the conversation lock the sweep needs.
	if n.hub.relay != nil && len(n.hub.registry.ConnectionsFor(msg.ReceiverID)) > 0 {
		go n.sweepDelivered(msg.ConversationID, msg.ReceiverID)
	}
}

func (n *HubNotifier) sweepDelivered(conversationID, receiverID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := n.hub.relay.MarkDelivered(ctx, conversationID, receiverID); err != nil {
		log.Printf("ws notifier: delivered sweep for %s: %v", receiverID, err)
	}
}

func (n *HubNotifier) MessagesDelivered(conv *domain.Conversation, receiverID uuid.UUID, msgs []domain.Message) {
	evt, err := NewEvent(EventTypeMessagesDelivered, &conv.ID, DeliveredPayload{
		ConversationID: conv.ID,
		DeliveredTo:    receiverID,
		Messages:       msgs,
	})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToConversation(conv.ID, nil, evt, nil)
}

func (n *HubNotifier) MessagesRead(conv *domain.Conversation, readerID uuid.UUID, msgs []domain.Message) {
	evt, err := NewEvent(EventTypeMessagesRead, &conv.ID, ReadPayload{
		ConversationID: conv.ID,
		ReadBy:         readerID,
		Messages:       msgs,
	})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToConversation(conv.ID, nil, evt, nil)
}

// ConversationUpdated goes to every live connection of both participants,
// independent of room membership, so conversation-list views stay current.
func (n *HubNotifier) ConversationUpdated(conv *domain.Conversation) {
	evt, err := NewEvent(EventTypeConversationUpdated, &conv.ID, ConversationUpdatedPayload{Conversation: *conv})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToUsers([]uuid.UUID{conv.UserAID, conv.UserBID}, evt)
}
