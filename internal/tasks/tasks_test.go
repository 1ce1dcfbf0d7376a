package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func TestLocalSchedulerFires(t *testing.T) {
	fired := make(chan string, 1)
	s := NewLocalScheduler(func(_ context.Context, id string) error {
		fired <- id
		return nil
	}, zap.NewNop())
	defer s.Close()

	if err := s.ScheduleRingTimeout(context.Background(), "call-1", 10*time.Millisecond); err != nil {
		t.Fatalf("ScheduleRingTimeout: %v", err)
	}

	select {
	case id := <-fired:
		if id != "call-1" {
			t.Errorf("fired for %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ring timeout never fired")
	}
}

func TestLocalSchedulerDedupesAndCloses(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := NewLocalScheduler(func(context.Context, string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, zap.NewNop())

	ctx := context.Background()
	_ = s.ScheduleRingTimeout(ctx, "call-1", time.Hour)
	_ = s.ScheduleRingTimeout(ctx, "call-1", time.Hour)
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	_ = s.Close()
	if s.Pending() != 0 {
		t.Errorf("timers left after Close: %d", s.Pending())
	}
	if err := s.ScheduleRingTimeout(ctx, "call-2", time.Millisecond); err == nil {
		t.Error("scheduling after Close succeeded")
	}
}

func TestProcessRingTimeout(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		result  error
		wantErr bool
	}{
		{"expires call", mustJSON(ringTimeoutPayload{CallID: "c1"}), nil, false},
		{"gone call is done", mustJSON(ringTimeoutPayload{CallID: "c1"}), models.ErrNotFound, false},
		{"store failure retries", mustJSON(ringTimeoutPayload{CallID: "c1"}), models.ErrStoreUnavailable, true},
		{"bad payload", []byte(`{`), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &AsynqScheduler{
				expire: func(context.Context, string) error { return tt.result },
				log:    zap.NewNop(),
			}
			err := s.processRingTimeout(context.Background(), asynq.NewTask(TypeRingTimeout, tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	s := &AsynqScheduler{expire: func(context.Context, string) error { return nil }, log: zap.NewNop()}
	err := s.processRingTimeout(context.Background(), asynq.NewTask(TypeRingTimeout, []byte(`{}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want SkipRetry", err)
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
