package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// TypeRingTimeout expires a call that is still ringing
	TypeRingTimeout = "call:ring_timeout"

	queueCalls = "calls"
)

type ringTimeoutPayload struct {
	CallID string `json:"call_id"`
}

// AsynqScheduler stores ring timeouts in Redis so they survive restarts
// and fire on whichever instance picks them up
type AsynqScheduler struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	expire ExpireFunc
	log    *zap.Logger
}

// NewAsynqScheduler creates the asynq client and worker for redisURL
func NewAsynqScheduler(redisURL string, expire ExpireFunc, log *zap.Logger) (*AsynqScheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}

	s := &AsynqScheduler{
		client: asynq.NewClient(opt),
		mux:    asynq.NewServeMux(),
		expire: expire,
		log:    log.Named("scheduler"),
	}
	s.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{queueCalls: 1},
		Logger:      s.log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			s.log.Warn("task failed", zap.String("task", task.Type()), zap.Error(err))
		}),
	})
	s.mux.HandleFunc(TypeRingTimeout, s.processRingTimeout)
	return s, nil
}

// ScheduleRingTimeout enqueues the expiry of callID after the given delay
func (s *AsynqScheduler) ScheduleRingTimeout(ctx context.Context, callID string, after time.Duration) error {
	payload, err := json.Marshal(ringTimeoutPayload{CallID: callID})
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TypeRingTimeout, payload),
		asynq.ProcessIn(after),
		asynq.Queue(queueCalls),
		asynq.MaxRetry(3),
		asynq.TaskID("ring:"+callID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("asynq: enqueue ring timeout: %w", err)
	}
	return nil
}

func (s *AsynqScheduler) processRingTimeout(ctx context.Context, t *asynq.Task) error {
	var p ringTimeoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad ring timeout payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.CallID == "" {
		return fmt.Errorf("ring timeout without call id: %w", asynq.SkipRetry)
	}

	err := s.expire(ctx, p.CallID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// Run processes tasks until ctx is done
func (s *AsynqScheduler) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("asynq: start worker: %w", err)
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// Close releases the client connection
func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}
