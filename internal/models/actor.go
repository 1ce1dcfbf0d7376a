package models

// Actor is the session performing an action inside a conversation
type Actor struct {
	SessionID      string   `json:"session_id"`
	ConversationID string   `json:"conversation_id"`
	User           Identity `json:"user"`
}
