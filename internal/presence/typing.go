// Package presence tracks who is typing in each conversation. State lives
// in memory only and expires on its own.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"vatochito/gateway/internal/events"
	"vatochito/gateway/internal/models"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Publisher broadcasts an event to a conversation
type Publisher interface {
	Broadcast(ctx context.Context, conversationID string, event any, excludeSessionID string) int
}

type entry struct {
	user      models.Identity
	sessionID string
	updatedAt time.Time
}

type expired struct {
	conversationID string
	entry
}

// Tracker keeps the set of active typers per conversation
type Tracker struct {
	mu     sync.Mutex
	typing map[string]map[string]entry // conversation -> user -> entry

	// sendMu is taken before mu is released, so broadcasts go out in the
	// order the state changed
	sendMu sync.Mutex

	ttl       time.Duration
	publisher Publisher
	scheduler gocron.Scheduler
	now       func() time.Time
	log       *zap.Logger
}

// NewTracker creates a tracker whose entries expire after ttl
func NewTracker(publisher Publisher, ttl time.Duration, log *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Tracker{
		typing:    make(map[string]map[string]entry),
		ttl:       ttl,
		publisher: publisher,
		now:       time.Now,
		log:       log.Named("typing"),
	}
}

// SetTyping records the user's typing flag and tells the rest of the
// conversation
func (t *Tracker) SetTyping(ctx context.Context, conversationID string, user models.Identity, sessionID string, isTyping bool) {
	t.mu.Lock()
	if isTyping {
		users, ok := t.typing[conversationID]
		if !ok {
			users = make(map[string]entry)
			t.typing[conversationID] = users
		}
		users[user.ID] = entry{user: user, sessionID: sessionID, updatedAt: t.now()}
	} else {
		t.remove(conversationID, user.ID)
	}
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	t.publisher.Broadcast(ctx, conversationID, events.NewTyping(user, isTyping), sessionID)
}

// Clear drops the user's typing state when their session goes away. Only
// the session that set the flag can clear it this way.
func (t *Tracker) Clear(ctx context.Context, conversationID, userID, sessionID string) {
	t.mu.Lock()
	e, ok := t.typing[conversationID][userID]
	if !ok || e.sessionID != sessionID {
		t.mu.Unlock()
		return
	}
	t.remove(conversationID, userID)
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	t.publisher.Broadcast(ctx, conversationID, events.NewTyping(e.user, false), sessionID)
}

// remove deletes one entry; callers hold t.mu
func (t *Tracker) remove(conversationID, userID string) {
	users, ok := t.typing[conversationID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
}

// Sweep expires entries not refreshed within the TTL and broadcasts a stop
// for each. It returns the number of entries expired.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) int {
	var stale []expired

	t.mu.Lock()
	for conv, users := range t.typing {
		for id, e := range users {
			if now.Sub(e.updatedAt) >= t.ttl {
				stale = append(stale, expired{conversationID: conv, entry: e})
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(t.typing, conv)
		}
	}
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	for _, e := range stale {
		t.publisher.Broadcast(ctx, e.conversationID, events.NewTyping(e.user, false), e.sessionID)
	}
	return len(stale)
}

// Typing returns the IDs of users currently typing in a conversation,
// sorted
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.typing[conversationID]))
	for id := range t.typing[conversationID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start runs Sweep every second until Stop
func (t *Tracker) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = s.NewJob(
		gocron.DurationJob(time.Second),
		gocron.NewTask(func() {
			if n := t.Sweep(ctx, t.now()); n > 0 {
				t.log.Debug("expired typing indicators", zap.Int("count", n))
			}
		}),
		gocron.WithName("typing-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	s.Start()
	t.scheduler = s
	return nil
}

// Stop shuts the sweep job down
func (t *Tracker) Stop() error {
	if t.scheduler == nil {
		return nil
	}
	return t.scheduler.Shutdown()
}
