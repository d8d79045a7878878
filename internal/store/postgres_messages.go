package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/votefest/wallet-service/internal/domain"
)

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, user_id, content, is_from_admin, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, msg.ID, msg.AccountID, msg.Content, msg.IsFromAdmin, msg.CreatedAt)
	return mapPgError(err)
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.QueryRow(ctx, `
		UPDATE messages
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1
		RETURNING id, user_id, content, is_from_admin, is_read, read_at, created_at
	`, messageID).Scan(&msg.ID, &msg.AccountID, &msg.Content, &msg.IsFromAdmin, &msg.IsRead, &msg.ReadAt, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}
