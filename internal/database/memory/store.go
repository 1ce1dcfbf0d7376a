// Package memory is an in-process implementation of the gateway stores,
// used for single-node development and in tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/google/uuid"
)

type memberKey struct{ conversationID, userID string }

type userMessageKey struct{ messageID, userID string }

type reactionKey struct{ messageID, userID, emoji string }

type pinKey struct{ conversationID, messageID string }

// Store keeps memberships, messages and calls in maps
type Store struct {
	mu           sync.RWMutex
	members      map[memberKey]models.Membership
	messages     map[string]models.Message
	receipts     map[userMessageKey]models.Receipt
	reactions    map[reactionKey]struct{}
	pins         map[pinKey]models.Pin
	calls        map[string]models.Call
	participants map[userMessageKey]models.CallParticipant
}

// New creates an empty store
func New() *Store {
	return &Store{
		members:      make(map[memberKey]models.Membership),
		messages:     make(map[string]models.Message),
		receipts:     make(map[userMessageKey]models.Receipt),
		reactions:    make(map[reactionKey]struct{}),
		pins:         make(map[pinKey]models.Pin),
		calls:        make(map[string]models.Call),
		participants: make(map[userMessageKey]models.CallParticipant),
	}
}

// AddMember adds or updates a membership
func (s *Store) AddMember(conversationID, userID string, isAdmin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{conversationID, userID}] = models.Membership{
		ConversationID: conversationID,
		UserID:         userID,
		IsAdmin:        isAdmin,
		JoinedAt:       time.Now(),
	}
}

// RemoveMember deletes a membership
func (s *Store) RemoveMember(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberKey{conversationID, userID})
}

// IsMember reports whether userID belongs to conversationID
func (s *Store) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberKey{conversationID, userID}]
	return ok, nil
}

// IsAdmin reports whether userID administers conversationID
func (s *Store) IsAdmin(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[memberKey{conversationID, userID}].IsAdmin, nil
}

// CreateMessage stores a message and the sender's "sent" receipt
func (s *Store) CreateMessage(_ context.Context, in models.NewMessage) (models.Message, error) {
	now := time.Now()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Type:           in.Type,
		Content:        in.Content,
		ReplyTo:        in.ReplyTo,
		ForwardedFrom:  in.ForwardedFrom,
		CreatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	s.receipts[userMessageKey{msg.ID, in.Sender.ID}] = models.Receipt{
		MessageID: msg.ID,
		UserID:    in.Sender.ID,
		State:     models.ReceiptSent,
		UpdatedAt: now,
	}
	return msg, nil
}

// GetMessage loads a message by ID
func (s *Store) GetMessage(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.Message{}, models.ErrNotFound
	}
	return msg, nil
}

// EditMessage replaces the content of a message that is not deleted
func (s *Store) EditMessage(_ context.Context, id, content string, editedAt time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok || msg.IsDeleted {
		return models.Message{}, models.ErrNotFound
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	s.messages[id] = msg
	return msg, nil
}

// SoftDeleteMessage flags a message as deleted
func (s *Store) SoftDeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.ErrNotFound
	}
	msg.IsDeleted = true
	s.messages[id] = msg
	return nil
}

// UpsertReceipt records a user's delivery state for a message
func (s *Store) UpsertReceipt(_ context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return models.ErrNotFound
	}
	s.receipts[userMessageKey{r.MessageID, r.UserID}] = r
	return nil
}

// Receipt returns the stored receipt for a user, if any
func (s *Store) Receipt(messageID, userID string) (models.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[userMessageKey{messageID, userID}]
	return r, ok
}

// ToggleReaction removes the reaction when present and adds it otherwise
func (s *Store) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return false, models.ErrNotFound
	}
	key := reactionKey{messageID, userID, emoji}
	if _, ok := s.reactions[key]; ok {
		delete(s.reactions, key)
		return false, nil
	}
	s.reactions[key] = struct{}{}
	return true, nil
}

// PinMessage pins a message in its conversation
func (s *Store) PinMessage(_ context.Context, p models.Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[p.MessageID]; !ok {
		return models.ErrNotFound
	}
	s.pins[pinKey{p.ConversationID, p.MessageID}] = p
	return nil
}

// Pinned reports whether a message is pinned in a conversation
func (s *Store) Pinned(conversationID, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pins[pinKey{conversationID, messageID}]
	return ok
}

// CreateCall stores a call and its participants
func (s *Store) CreateCall(_ context.Context, call models.Call, participants []models.CallParticipant) (models.Call, error) {
	call.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = call
	for _, p := range participants {
		p.CallID = call.ID
		s.participants[userMessageKey{call.ID, p.UserID}] = p
	}
	return call, nil
}

// GetCall loads a call by ID
func (s *Store) GetCall(_ context.Context, id string) (models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return models.Call{}, models.ErrNotFound
	}
	return call, nil
}

// FinishCall moves a call into a terminal state if its stored state is
// still one of from, stamping left_at for leaverID
func (s *Store) FinishCall(_ context.Context, call models.Call, leaverID string, from ...models.CallState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.calls[call.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !slices.Contains(from, stored.State) {
		return models.ErrInvalidTransition
	}

	stored.State = call.State
	stored.EndedAt = call.EndedAt
	stored.Duration = call.Duration
	s.calls[call.ID] = stored

	key := userMessageKey{call.ID, leaverID}
	if p, ok := s.participants[key]; ok && p.LeftAt == nil {
		p.LeftAt = call.EndedAt
		s.participants[key] = p
	}
	return nil
}

// AnswerCall marks the participant answered and the call active
func (s *Store) AnswerCall(_ context.Context, callID, userID string, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return models.ErrNotFound
	}
	key := userMessageKey{callID, userID}
	p, ok := s.participants[key]
	if !ok {
		return models.ErrNotFound
	}
	if call.State.Terminal() || p.IsAnswered {
		return models.ErrInvalidTransition
	}

	call.State = models.CallActive
	s.calls[callID] = call
	p.IsAnswered = true
	p.JoinedAt = &joinedAt
	s.participants[key] = p
	return nil
}

// GetParticipant loads one participant of a call
func (s *Store) GetParticipant(_ context.Context, callID, userID string) (models.CallParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[userMessageKey{callID, userID}]
	if !ok {
		return models.CallParticipant{}, models.ErrNotFound
	}
	return p, nil
}
