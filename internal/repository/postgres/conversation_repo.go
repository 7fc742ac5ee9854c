package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courierchat/courier/internal/domain"
)

const conversationCols = "id, user_a, user_b, last_message, last_message_id, unread_a, unread_b, created_at, updated_at"

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_a, user_b, last_message, unread_a, unread_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		conv.ID, conv.UserAID, conv.UserBID, conv.LastMessage,
		conv.UnreadA, conv.UnreadB, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationCols + ` FROM conversations WHERE id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *ConversationRepo) GetByUsers(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationCols + ` FROM conversations WHERE user_a = $1 AND user_b = $2`
	return scanConversation(r.pool.QueryRow(ctx, query, userA, userB))
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	query := `
		SELECT c.id, c.user_a, c.user_b, c.last_message, c.last_message_id,
			c.unread_a, c.unread_b, c.created_at, c.updated_at,
			CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END AS other_user_id,
			CASE WHEN c.user_a = $1 THEN ub.username ELSE ua.username END AS other_username,
			CASE WHEN c.user_a = $1 THEN ub.display_name ELSE ua.display_name END AS other_display_name
		FROM conversations c
		JOIN users ua ON c.user_a = ua.id
		JOIN users ub ON c.user_b = ub.id
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY c.updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.UserAID, &conv.UserBID, &conv.LastMessage, &conv.LastMessageID,
			&conv.UnreadA, &conv.UnreadB, &conv.CreatedAt, &conv.UpdatedAt,
			&conv.OtherUserID, &conv.OtherUserUsername, &conv.OtherUserDisplayName,
		); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) ListIDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM conversations WHERE user_a = $1 OR user_b = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := row.Scan(
		&conv.ID, &conv.UserAID, &conv.UserBID, &conv.LastMessage, &conv.LastMessageID,
		&conv.UnreadA, &conv.UnreadB, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
