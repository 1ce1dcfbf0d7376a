package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements the gateway's membership, message and call stores on Postgres
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsMember reports whether userID belongs to conversationID
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// IsAdmin reports whether userID administers conversationID
func (s *Store) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	var isAdmin bool
	err := s.pool.QueryRow(ctx, `
		SELECT is_admin FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&isAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return isAdmin, nil
}
