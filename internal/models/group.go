package models

import "time"

// Membership represents a user's membership in a conversation
type Membership struct {
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	IsAdmin        bool      `json:"is_admin" db:"is_admin"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}
