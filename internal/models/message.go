package models

import "time"

// MessageType is the kind of content a message carries
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

// Message represents a chat message
type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversation" db:"conversation_id"`
	Sender         Identity    `json:"sender"`
	Type           MessageType `json:"message_type" db:"message_type"`
	Content        string      `json:"content" db:"content"`
	ReplyTo        *string     `json:"reply_to" db:"reply_to"`
	ForwardedFrom  *string     `json:"forwarded_from" db:"forwarded_from"`
	IsDeleted      bool        `json:"is_deleted" db:"is_deleted"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	EditedAt       *time.Time  `json:"edited_at" db:"edited_at"`
}

// NewMessage holds the fields needed to persist a message
type NewMessage struct {
	ConversationID string
	Sender         Identity
	Type           MessageType
	Content        string
	ReplyTo        *string
	ForwardedFrom  *string
}

// ReceiptState is the delivery state of a message for one user
type ReceiptState string

const (
	ReceiptSent      ReceiptState = "sent"
	ReceiptDelivered ReceiptState = "delivered"
	ReceiptRead      ReceiptState = "read"
)

// Receipt is a per-user delivery record
type Receipt struct {
	MessageID string       `json:"message_id" db:"message_id"`
	UserID    string       `json:"user_id" db:"user_id"`
	State     ReceiptState `json:"state" db:"state"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// Reaction is the result of toggling an emoji on a message
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

// Pin records a message pinned in a conversation
type Pin struct {
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	MessageID      string    `json:"message_id" db:"message_id"`
	PinnedBy       string    `json:"pinned_by" db:"pinned_by"`
	PinnedAt       time.Time `json:"pinned_at" db:"pinned_at"`
}
