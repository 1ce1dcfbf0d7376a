// Package calls runs the voice and video call lifecycle and relays WebRTC
// negotiation between participants.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/events"
	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/resilience"

	"go.uber.org/zap"
)

// Store persists calls and their participants. Transitions are
// compare-and-set on the stored state, so instances sharing a store
// cannot overwrite each other: a call that has already moved on yields
// models.ErrInvalidTransition.
type Store interface {
	CreateCall(ctx context.Context, call models.Call, participants []models.CallParticipant) (models.Call, error)
	GetCall(ctx context.Context, id string) (models.Call, error)
	GetParticipant(ctx context.Context, callID, userID string) (models.CallParticipant, error)
	AnswerCall(ctx context.Context, callID, userID string, joinedAt time.Time) error
	FinishCall(ctx context.Context, call models.Call, leaverID string, from ...models.CallState) error
}

var ringingStates = []models.CallState{models.CallInitiated, models.CallRinging}

// Membership answers conversation membership questions
type Membership interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// Publisher broadcasts an event to a conversation
type Publisher interface {
	Broadcast(ctx context.Context, conversationID string, event any, excludeSessionID string) int
}

// Scheduler arranges for an unanswered call to be expired later
type Scheduler interface {
	ScheduleRingTimeout(ctx context.Context, callID string, after time.Duration) error
}

// Manager applies call transitions. Within one instance every transition
// of a call runs under that call's lock, including its broadcast. Across
// instances the store decides which transition wins.
type Manager struct {
	store       Store
	members     Membership
	publisher   Publisher
	scheduler   Scheduler
	guard       *resilience.Guard
	ringTimeout time.Duration
	locks       *keyedMutex
	now         func() time.Time
	log         *zap.Logger
}

// NewManager creates a call manager
func NewManager(store Store, members Membership, publisher Publisher, guard *resilience.Guard, ringTimeout time.Duration, log *zap.Logger) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = 45 * time.Second
	}
	return &Manager{
		store:       store,
		members:     members,
		publisher:   publisher,
		guard:       guard,
		ringTimeout: ringTimeout,
		locks:       newKeyedMutex(),
		now:         time.Now,
		log:         log.Named("calls"),
	}
}

// UseScheduler sets the ring timeout scheduler. The scheduler calls back
// into Expire, so it is attached after both exist.
func (m *Manager) UseScheduler(s Scheduler) {
	m.scheduler = s
}

// Initiate starts a call from the actor to the given conversation members
func (m *Manager) Initiate(ctx context.Context, a models.Actor, callType models.CallType, participantIDs []string) (models.Call, error) {
	if callType == "" {
		callType = models.CallVoice
	}
	if callType != models.CallVoice && callType != models.CallVideo {
		return models.Call{}, fmt.Errorf("%w: unknown call type %q", models.ErrInvalidPayload, callType)
	}

	invitees, err := m.eligible(ctx, a, participantIDs)
	if err != nil {
		return models.Call{}, err
	}
	if len(invitees) == 0 {
		return models.Call{}, fmt.Errorf("%w: no one to call", models.ErrInvalidPayload)
	}

	now := m.now()
	participants := make([]models.CallParticipant, 0, len(invitees)+1)
	participants = append(participants, models.CallParticipant{UserID: a.User.ID, IsAnswered: true, JoinedAt: &now})
	for _, id := range invitees {
		participants = append(participants, models.CallParticipant{UserID: id})
	}

	call, err := resilience.Call(ctx, m.guard, func(ctx context.Context) (models.Call, error) {
		return m.store.CreateCall(ctx, models.Call{
			ConversationID: a.ConversationID,
			CallerID:       a.User.ID,
			Type:           callType,
			State:          models.CallInitiated,
			StartedAt:      now,
		}, participants)
	})
	if err != nil {
		return models.Call{}, err
	}

	unlock := m.locks.Lock(call.ID)
	m.publisher.Broadcast(ctx, a.ConversationID, events.CallIncomingPayload{
		Type:           events.TypeCallIncoming,
		CallID:         call.ID,
		Caller:         a.User,
		CallType:       call.Type,
		ParticipantIDs: invitees,
	}, "")
	unlock()

	if m.scheduler != nil {
		if err := m.scheduler.ScheduleRingTimeout(ctx, call.ID, m.ringTimeout); err != nil {
			m.log.Warn("failed to schedule ring timeout", zap.String("call_id", call.ID), zap.Error(err))
		}
	}

	m.log.Info("call initiated",
		zap.String("call_id", call.ID),
		zap.String("conversation_id", a.ConversationID),
		zap.String("user_id", a.User.ID),
		zap.Int("invitees", len(invitees)))
	return call, nil
}

// eligible dedupes the invitees and keeps conversation members other than
// the caller
func (m *Manager) eligible(ctx context.Context, a models.Actor, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == a.User.ID || seen[id] {
			continue
		}
		seen[id] = true

		ok, err := resilience.Call(ctx, m.guard, func(ctx context.Context) (bool, error) {
			return m.members.IsMember(ctx, a.ConversationID, id)
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Answer accepts the call for the actor and makes it active
func (m *Manager) Answer(ctx context.Context, a models.Actor, callID string) error {
	unlock := m.locks.Lock(callID)
	defer unlock()

	call, err := m.load(ctx, a, callID)
	if err != nil {
		return err
	}
	if call.State.Terminal() {
		return models.ErrInvalidTransition
	}

	p, err := m.participant(ctx, callID, a.User.ID)
	if err != nil {
		return err
	}
	if p.IsAnswered {
		return models.ErrInvalidTransition
	}

	if err := m.guard.Do(ctx, func(ctx context.Context) error {
		return m.store.AnswerCall(ctx, callID, a.User.ID, m.now())
	}); err != nil {
		return err
	}

	m.publisher.Broadcast(ctx, a.ConversationID, events.CallAnsweredPayload{
		Type:     events.TypeCallAnswered,
		CallID:   callID,
		Answerer: a.User,
	}, "")
	return nil
}

// Reject declines a ringing call
func (m *Manager) Reject(ctx context.Context, a models.Actor, callID string) error {
	unlock := m.locks.Lock(callID)
	defer unlock()

	call, err := m.load(ctx, a, callID)
	if err != nil {
		return err
	}
	if !call.State.Ringing() {
		return models.ErrInvalidTransition
	}

	if _, err := m.participant(ctx, callID, a.User.ID); err != nil {
		return err
	}

	call.Finish(models.CallDeclined, m.now())
	if err := m.finish(ctx, call, a.User.ID, ringingStates...); err != nil {
		return err
	}

	m.publisher.Broadcast(ctx, a.ConversationID, events.CallRejectedPayload{
		Type:     events.TypeCallRejected,
		CallID:   callID,
		Rejector: a.User,
	}, "")
	return nil
}

// End hangs up. An active call becomes ended with its duration; a call
// nobody answered becomes missed. If another instance answered the call
// in the meantime, End applies to the call as it is now.
func (m *Manager) End(ctx context.Context, a models.Actor, callID string) error {
	unlock := m.locks.Lock(callID)
	defer unlock()

	call, err := m.load(ctx, a, callID)
	if err != nil {
		return err
	}
	if _, err := m.participant(ctx, callID, a.User.ID); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		if call.State.Terminal() {
			return models.ErrInvalidTransition
		}

		from := ringingStates
		if call.State == models.CallActive {
			call.Finish(models.CallEnded, m.now())
			from = []models.CallState{models.CallActive}
		} else {
			call.Finish(models.CallMissed, m.now())
		}

		err := m.finish(ctx, call, a.User.ID, from...)
		if err == nil {
			break
		}
		// States only move forward, so one reload is enough to catch up.
		if !errors.Is(err, models.ErrInvalidTransition) || attempt > 0 {
			return err
		}
		if call, err = m.load(ctx, a, callID); err != nil {
			return err
		}
	}

	m.publisher.Broadcast(ctx, a.ConversationID, events.CallEndedPayload{
		Type:     events.TypeCallEnded,
		CallID:   callID,
		EndedBy:  a.User,
		State:    call.State,
		Duration: call.Duration,
	}, "")
	m.log.Info("call ended",
		zap.String("call_id", callID),
		zap.String("state", string(call.State)),
		zap.Int("duration", call.Duration))
	return nil
}

// Expire marks a call that is still ringing as missed. Calls in any other
// state are left alone, so a late timer is harmless.
func (m *Manager) Expire(ctx context.Context, callID string) error {
	unlock := m.locks.Lock(callID)
	defer unlock()

	call, err := resilience.Call(ctx, m.guard, func(ctx context.Context) (models.Call, error) {
		return m.store.GetCall(ctx, callID)
	})
	if err != nil {
		return err
	}
	if !call.State.Ringing() {
		return nil
	}

	call.Finish(models.CallMissed, m.now())
	if err := m.finish(ctx, call, "", ringingStates...); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	m.publisher.Broadcast(ctx, call.ConversationID, events.CallMissedPayload{
		Type:   events.TypeCallMissed,
		CallID: callID,
	}, "")
	m.log.Info("call missed", zap.String("call_id", callID))
	return nil
}

// Relay forwards a WebRTC negotiation payload to the rest of the
// conversation. The payload itself is never inspected.
func (m *Manager) Relay(ctx context.Context, a models.Actor, s *events.Signal) error {
	unlock := m.locks.Lock(s.CallID)
	defer unlock()

	call, err := m.load(ctx, a, s.CallID)
	if err != nil {
		return err
	}
	if call.State.Terminal() {
		return models.ErrInvalidTransition
	}
	if _, err := m.participant(ctx, s.CallID, a.User.ID); err != nil {
		return err
	}

	m.publisher.Broadcast(ctx, a.ConversationID, events.NewSignal(s, a.User.ID), a.SessionID)
	return nil
}

// load fetches a call of the actor's conversation. Calls of other
// conversations are reported as missing.
func (m *Manager) load(ctx context.Context, a models.Actor, callID string) (models.Call, error) {
	call, err := resilience.Call(ctx, m.guard, func(ctx context.Context) (models.Call, error) {
		return m.store.GetCall(ctx, callID)
	})
	if err != nil {
		return models.Call{}, err
	}
	if call.ConversationID != a.ConversationID {
		return models.Call{}, models.ErrNotFound
	}
	return call, nil
}

// participant fetches the actor's participation; outsiders are forbidden
func (m *Manager) participant(ctx context.Context, callID, userID string) (models.CallParticipant, error) {
	p, err := resilience.Call(ctx, m.guard, func(ctx context.Context) (models.CallParticipant, error) {
		return m.store.GetParticipant(ctx, callID, userID)
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.CallParticipant{}, models.ErrForbidden
	}
	return p, err
}

// finish stores a terminal transition of call, provided the stored state
// is still one of from
func (m *Manager) finish(ctx context.Context, call models.Call, leaverID string, from ...models.CallState) error {
	return m.guard.Do(ctx, func(ctx context.Context) error {
		return m.store.FinishCall(ctx, call, leaverID, from...)
	})
}
