package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, sender_id, sender_username, message_type, content,
	reply_to, forwarded_from, is_deleted, created_at, edited_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.Username, &m.Type, &m.Content,
		&m.ReplyTo, &m.ForwardedFrom, &m.IsDeleted, &m.CreatedAt, &m.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, models.ErrNotFound
	}
	return m, err
}

// CreateMessage inserts a message and the sender's "sent" receipt in one transaction
func (s *Store) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var msg models.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		msg, err = scanMessage(tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, sender_id, sender_username, message_type, content, reply_to, forwarded_from)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+messageColumns,
			in.ConversationID, in.Sender.ID, in.Sender.Username, in.Type, in.Content, in.ReplyTo, in.ForwardedFrom))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO message_receipts (message_id, user_id, state, updated_at)
			VALUES ($1, $2, $3, $4)
		`, msg.ID, in.Sender.ID, models.ReceiptSent, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert sender receipt: %w", err)
		}
		return nil
	})
	return msg, err
}

// GetMessage loads a message by ID
func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

// EditMessage replaces the content of a message that is not deleted
func (s *Store) EditMessage(ctx context.Context, id, content string, editedAt time.Time) (models.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, edited_at = $3
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+messageColumns, id, content, editedAt))
}

// SoftDeleteMessage flags a message as deleted
func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpsertReceipt records a user's delivery state for a message
func (s *Store) UpsertReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_receipts (message_id, user_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, r.MessageID, r.UserID, r.State, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert receipt: %w", err)
	}
	return nil
}

// ToggleReaction removes the reaction when present and adds it otherwise.
// It reports whether the reaction was added.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		`, messageID, userID, emoji)
		if err != nil {
			return fmt.Errorf("failed to remove reaction: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, messageID, userID, emoji)
		if err != nil {
			return fmt.Errorf("failed to add reaction: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// PinMessage pins a message in its conversation, refreshing an existing pin
func (s *Store) PinMessage(ctx context.Context, p models.Pin) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pinned_messages (conversation_id, message_id, pinned_by, pinned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, message_id)
		DO UPDATE SET pinned_by = EXCLUDED.pinned_by, pinned_at = EXCLUDED.pinned_at
	`, p.ConversationID, p.MessageID, p.PinnedBy, p.PinnedAt)
	if err != nil {
		return fmt.Errorf("failed to pin message: %w", err)
	}
	return nil
}
