// Package messages persists message actions and announces them to the
// conversation once the store has committed them.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vatochito/gateway/internal/events"
	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/resilience"

	"go.uber.org/zap"
)

// Store persists messages and their receipts, reactions and pins
type Store interface {
	CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, id string) (models.Message, error)
	EditMessage(ctx context.Context, id, content string, editedAt time.Time) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
	UpsertReceipt(ctx context.Context, r models.Receipt) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	PinMessage(ctx context.Context, p models.Pin) error
}

// Membership answers conversation membership questions
type Membership interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
}

// Publisher broadcasts an event to a conversation
type Publisher interface {
	Broadcast(ctx context.Context, conversationID string, event any, excludeSessionID string) int
}

// SendInput is the content of a new message
type SendInput struct {
	Type          models.MessageType
	Content       string
	ReplyTo       *string
	ForwardedFrom *string
}

// Pipeline runs message actions for an actor. Nothing is broadcast unless
// the store call succeeded.
type Pipeline struct {
	store     Store
	members   Membership
	publisher Publisher
	guard     *resilience.Guard
	now       func() time.Time
	log       *zap.Logger
}

// NewPipeline creates a message pipeline
func NewPipeline(store Store, members Membership, publisher Publisher, guard *resilience.Guard, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		members:   members,
		publisher: publisher,
		guard:     guard,
		now:       time.Now,
		log:       log.Named("messages"),
	}
}

// Send creates a message and broadcasts message.new to the conversation
func (p *Pipeline) Send(ctx context.Context, a models.Actor, in SendInput) (models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return models.Message{}, fmt.Errorf("%w: unknown message type %q", models.ErrInvalidPayload, in.Type)
	}
	if in.Type == models.MessageText && strings.TrimSpace(in.Content) == "" {
		return models.Message{}, fmt.Errorf("%w: empty message", models.ErrInvalidPayload)
	}

	if in.ReplyTo != nil {
		if _, err := p.loadInConversation(ctx, a.ConversationID, *in.ReplyTo); err != nil {
			return models.Message{}, err
		}
	}
	if in.ForwardedFrom != nil {
		if err := p.checkForwardSource(ctx, a, *in.ForwardedFrom); err != nil {
			return models.Message{}, err
		}
	}

	msg, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (models.Message, error) {
		return p.store.CreateMessage(ctx, models.NewMessage{
			ConversationID: a.ConversationID,
			Sender:         a.User,
			Type:           in.Type,
			Content:        in.Content,
			ReplyTo:        in.ReplyTo,
			ForwardedFrom:  in.ForwardedFrom,
		})
	})
	if err != nil {
		return models.Message{}, err
	}

	p.publisher.Broadcast(ctx, a.ConversationID, events.NewMessage(msg), "")
	return msg, nil
}

// checkForwardSource lets a user forward only messages they can see
func (p *Pipeline) checkForwardSource(ctx context.Context, a models.Actor, messageID string) error {
	src, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (models.Message, error) {
		return p.store.GetMessage(ctx, messageID)
	})
	if err != nil {
		return err
	}
	if src.IsDeleted {
		return models.ErrNotFound
	}
	if src.ConversationID == a.ConversationID {
		return nil
	}

	ok, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (bool, error) {
		return p.members.IsMember(ctx, src.ConversationID, a.User.ID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

// Edit replaces the content of the actor's own message and broadcasts
// message.edited
func (p *Pipeline) Edit(ctx context.Context, a models.Actor, messageID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, fmt.Errorf("%w: empty message", models.ErrInvalidPayload)
	}
	if _, err := p.loadOwn(ctx, a, messageID); err != nil {
		return models.Message{}, err
	}

	msg, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (models.Message, error) {
		return p.store.EditMessage(ctx, messageID, content, p.now())
	})
	if err != nil {
		return models.Message{}, err
	}

	p.publisher.Broadcast(ctx, a.ConversationID, events.NewMessageEdited(msg), "")
	return msg, nil
}

// Delete soft-deletes the actor's own message and broadcasts
// message.deleted
func (p *Pipeline) Delete(ctx context.Context, a models.Actor, messageID string) error {
	if _, err := p.loadOwn(ctx, a, messageID); err != nil {
		return err
	}

	err := p.guard.Do(ctx, func(ctx context.Context) error {
		return p.store.SoftDeleteMessage(ctx, messageID)
	})
	if err != nil {
		return err
	}

	p.publisher.Broadcast(ctx, a.ConversationID, events.NewMessageDeleted(messageID), "")
	return nil
}

// MarkRead records that the actor read a message and broadcasts
// message.read
func (p *Pipeline) MarkRead(ctx context.Context, a models.Actor, messageID string) error {
	if _, err := p.loadInConversation(ctx, a.ConversationID, messageID); err != nil {
		return err
	}

	err := p.guard.Do(ctx, func(ctx context.Context) error {
		return p.store.UpsertReceipt(ctx, models.Receipt{
			MessageID: messageID,
			UserID:    a.User.ID,
			State:     models.ReceiptRead,
			UpdatedAt: p.now(),
		})
	})
	if err != nil {
		return err
	}

	p.publisher.Broadcast(ctx, a.ConversationID, events.NewReadReceipt(messageID, a.User.ID), "")
	return nil
}

// React toggles the actor's emoji on a message and broadcasts
// message.reaction
func (p *Pipeline) React(ctx context.Context, a models.Actor, messageID, emoji string) (models.Reaction, error) {
	if _, err := p.loadInConversation(ctx, a.ConversationID, messageID); err != nil {
		return models.Reaction{}, err
	}

	added, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (bool, error) {
		return p.store.ToggleReaction(ctx, messageID, a.User.ID, emoji)
	})
	if err != nil {
		return models.Reaction{}, err
	}

	r := models.Reaction{MessageID: messageID, UserID: a.User.ID, Emoji: emoji, Added: added}
	p.publisher.Broadcast(ctx, a.ConversationID, events.NewReaction(r), "")
	return r, nil
}

// Pin pins a message; the actor must be a conversation admin at the time
// of the action
func (p *Pipeline) Pin(ctx context.Context, a models.Actor, messageID string) (models.Pin, error) {
	admin, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (bool, error) {
		return p.members.IsAdmin(ctx, a.ConversationID, a.User.ID)
	})
	if err != nil {
		return models.Pin{}, err
	}
	if !admin {
		return models.Pin{}, models.ErrForbidden
	}

	if _, err := p.loadInConversation(ctx, a.ConversationID, messageID); err != nil {
		return models.Pin{}, err
	}

	pin := models.Pin{ConversationID: a.ConversationID, MessageID: messageID, PinnedBy: a.User.ID, PinnedAt: p.now()}
	if err := p.guard.Do(ctx, func(ctx context.Context) error {
		return p.store.PinMessage(ctx, pin)
	}); err != nil {
		return models.Pin{}, err
	}

	p.publisher.Broadcast(ctx, a.ConversationID, events.NewPinned(pin), "")
	return pin, nil
}

// loadInConversation fetches a live message of the conversation. Messages
// of other conversations are reported as missing.
func (p *Pipeline) loadInConversation(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	msg, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (models.Message, error) {
		return p.store.GetMessage(ctx, messageID)
	})
	if err != nil {
		return models.Message{}, err
	}
	if msg.ConversationID != conversationID || msg.IsDeleted {
		return models.Message{}, models.ErrNotFound
	}
	return msg, nil
}

func (p *Pipeline) loadOwn(ctx context.Context, a models.Actor, messageID string) (models.Message, error) {
	msg, err := p.loadInConversation(ctx, a.ConversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Sender.ID != a.User.ID {
		return models.Message{}, models.ErrForbidden
	}
	return msg, nil
}
