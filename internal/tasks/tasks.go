// Package tasks schedules delayed work, currently the ring timeout that
// marks unanswered calls as missed.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"vatochito/gateway/internal/models"

	"go.uber.org/zap"
)

// ExpireFunc is called when a call's ring timeout fires
type ExpireFunc func(ctx context.Context, callID string) error

// LocalScheduler keeps ring timeouts as in-process timers. Pending
// timeouts are lost on restart, which leaves those calls ringing in the
// store until someone ends them.
type LocalScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	expire ExpireFunc
	log    *zap.Logger
}

// NewLocalScheduler creates a timer based scheduler
func NewLocalScheduler(expire ExpireFunc, log *zap.Logger) *LocalScheduler {
	return &LocalScheduler{
		timers: make(map[string]*time.Timer),
		expire: expire,
		log:    log.Named("scheduler"),
	}
}

// ScheduleRingTimeout runs expire for callID after the given delay.
// Scheduling the same call twice keeps the first timer.
func (s *LocalScheduler) ScheduleRingTimeout(_ context.Context, callID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("scheduler closed")
	}
	if _, ok := s.timers[callID]; ok {
		return nil
	}

	s.timers[callID] = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, callID)
		s.mu.Unlock()

		if err := s.expire(context.Background(), callID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.log.Warn("ring timeout failed", zap.String("call_id", callID), zap.Error(err))
		}
	})
	return nil
}

// Pending returns the number of armed timers
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all pending timers
func (s *LocalScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}
