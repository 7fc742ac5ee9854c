package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courierchat/courier/internal/domain"
)

const messageCols = "id, conversation_id, sender_id, receiver_id, content, file_meta, kind, status, created_at, read_at"

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) CreateWithConversation(ctx context.Context, msg *domain.Message) (*domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, file_meta, kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, insert,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID,
		msg.Content, msg.File, msg.Kind, msg.Status, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	update := `
		UPDATE conversations
		SET last_message = $2,
			last_message_id = $3,
			updated_at = $4,
			unread_a = unread_a + CASE WHEN user_a = $5 THEN 1 ELSE 0 END,
			unread_b = unread_b + CASE WHEN user_b = $5 THEN 1 ELSE 0 END
		WHERE id = $1
		RETURNING ` + conversationCols
	conv, err := scanConversation(tx.QueryRow(ctx, update,
		msg.ConversationID, msg.Preview(), msg.ID, msg.CreatedAt, msg.ReceiverID,
	))
	if err != nil {
		return nil, fmt.Errorf("updating conversation summary: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s vanished during send", msg.ConversationID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages WHERE id = $1`
	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
		&msg.Content, &msg.File, &msg.Kind, &msg.Status, &msg.CreatedAt, &msg.ReadAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		query := `
			SELECT ` + messageCols + `
			FROM messages
			WHERE conversation_id = $1
				AND created_at < (SELECT created_at FROM messages WHERE id = $2)
			ORDER BY created_at DESC
			LIMIT $3`
		rows, err = r.pool.Query(ctx, query, conversationID, *before, limit)
	} else {
		query := `
			SELECT ` + messageCols + `
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2`
		rows, err = r.pool.Query(ctx, query, conversationID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, conversationID, receiverID uuid.UUID) ([]domain.Message, error) {
	query := `
		WITH updated AS (
			UPDATE messages
			SET status = 'delivered'
			WHERE conversation_id = $1 AND receiver_id = $2 AND status = 'sent'
			RETURNING ` + messageCols + `
		)
		SELECT ` + messageCols + ` FROM updated ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, conversationID, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, readAt time.Time) ([]domain.Message, *domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		WITH updated AS (
			UPDATE messages
			SET status = 'read', read_at = $3
			WHERE conversation_id = $1 AND receiver_id = $2 AND status IN ('sent', 'delivered')
			RETURNING ` + messageCols + `
		)
		SELECT ` + messageCols + ` FROM updated ORDER BY created_at`

	rows, err := tx.Query(ctx, query, conversationID, readerID, readAt)
	if err != nil {
		return nil, nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, nil, err
	}

	reset := `
		UPDATE conversations
		SET unread_a = CASE WHEN user_a = $2 THEN 0 ELSE unread_a END,
			unread_b = CASE WHEN user_b = $2 THEN 0 ELSE unread_b END
		WHERE id = $1
		RETURNING ` + conversationCols
	conv, err := scanConversation(tx.QueryRow(ctx, reset, conversationID, readerID))
	if err != nil {
		return nil, nil, fmt.Errorf("resetting unread counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return messages, conv, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
			&msg.Content, &msg.File, &msg.Kind, &msg.Status, &msg.CreatedAt, &msg.ReadAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
