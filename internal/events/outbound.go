package events

import (
	"encoding/json"
	"time"

	"vatochito/gateway/internal/models"
)

// Pong answers a ping
type Pong struct {
	Type Type `json:"type"`
}

// MessagePayload carries a full message for message.new and message.edited
type MessagePayload struct {
	Type Type           `json:"type"`
	Data models.Message `json:"data"`
}

// MessageDeletedPayload announces a soft delete
type MessageDeletedPayload struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
}

// ReadReceiptPayload announces that a user read a message
type ReadReceiptPayload struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// ReactionPayload announces a reaction toggle
type ReactionPayload struct {
	Type Type `json:"type"`
	models.Reaction
}

// PinnedPayload announces a pinned message
type PinnedPayload struct {
	Type Type `json:"type"`
	models.Pin
}

// TypingPayload announces a user's typing state
type TypingPayload struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// CallIncomingPayload rings the conversation
type CallIncomingPayload struct {
	Type           Type            `json:"type"`
	CallID         string          `json:"call_id"`
	Caller         models.Identity `json:"caller"`
	CallType       models.CallType `json:"call_type"`
	ParticipantIDs []string        `json:"participant_ids"`
}

// CallAnsweredPayload announces that a participant picked up
type CallAnsweredPayload struct {
	Type     Type            `json:"type"`
	CallID   string          `json:"call_id"`
	Answerer models.Identity `json:"answerer"`
}

// CallRejectedPayload announces a declined call
type CallRejectedPayload struct {
	Type     Type            `json:"type"`
	CallID   string          `json:"call_id"`
	Rejector models.Identity `json:"rejector"`
}

// CallEndedPayload announces a hang up. State is ended, or missed when the
// call was never answered.
type CallEndedPayload struct {
	Type     Type             `json:"type"`
	CallID   string           `json:"call_id"`
	EndedBy  models.Identity  `json:"ended_by"`
	State    models.CallState `json:"state"`
	Duration int              `json:"duration"`
}

// CallMissedPayload announces a call that rang out
type CallMissedPayload struct {
	Type   Type   `json:"type"`
	CallID string `json:"call_id"`
}

// SignalPayload relays a WebRTC negotiation blob
type SignalPayload struct {
	Type      Type            `json:"type"`
	CallID    string          `json:"call_id"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	SenderID  string          `json:"sender_id"`
}

// ErrorPayload is sent to a single session when its event was dropped
// for a reason worth reporting
type ErrorPayload struct {
	Type      Type      `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPong builds a pong frame
func NewPong() Pong {
	return Pong{Type: TypePong}
}

// NewMessage builds a message.new frame
func NewMessage(msg models.Message) MessagePayload {
	return MessagePayload{Type: TypeMessageNew, Data: msg}
}

// NewMessageEdited builds a message.edited frame
func NewMessageEdited(msg models.Message) MessagePayload {
	return MessagePayload{Type: TypeMessageEdited, Data: msg}
}

// NewMessageDeleted builds a message.deleted frame
func NewMessageDeleted(messageID string) MessageDeletedPayload {
	return MessageDeletedPayload{Type: TypeMessageDeleted, MessageID: messageID}
}

// NewReadReceipt builds a message.read frame
func NewReadReceipt(messageID, userID string) ReadReceiptPayload {
	return ReadReceiptPayload{Type: TypeMessageRead, MessageID: messageID, UserID: userID}
}

// NewReaction builds a message.reaction frame
func NewReaction(r models.Reaction) ReactionPayload {
	return ReactionPayload{Type: TypeMessageReaction, Reaction: r}
}

// NewPinned builds a message.pinned frame
func NewPinned(p models.Pin) PinnedPayload {
	return PinnedPayload{Type: TypeMessagePinned, Pin: p}
}

// NewTyping builds a typing frame
func NewTyping(user models.Identity, isTyping bool) TypingPayload {
	return TypingPayload{Type: TypeTyping, UserID: user.ID, Username: user.Username, IsTyping: isTyping}
}

// NewSignal builds the relayed copy of a WebRTC negotiation frame
func NewSignal(s *Signal, senderID string) SignalPayload {
	return SignalPayload{
		Type:      s.Type,
		CallID:    s.CallID,
		Offer:     s.Offer,
		Answer:    s.Answer,
		Candidate: s.Candidate,
		SenderID:  senderID,
	}
}

// NewError builds an error frame
func NewError(code, message string) ErrorPayload {
	return ErrorPayload{Type: TypeError, Code: code, Message: message, Timestamp: time.Now()}
}
