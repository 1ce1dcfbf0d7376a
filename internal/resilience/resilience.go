// Package resilience guards persistence calls with a circuit breaker and
// retries startup connections.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds circuit breaker settings
type Config struct {
	Name          string
	MaxFailures   uint32
	Timeout       time.Duration
	ResetInterval time.Duration
}

// Guard runs store operations with a deadline behind a circuit breaker
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuard creates a guard, filling unset settings with defaults
func NewGuard(cfg Config, log *zap.Logger) *Guard {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// Missing rows and denied actions are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || isOutcome(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Guard{
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.Timeout,
	}
}

// Do runs op. Errors that are not domain outcomes are wrapped in
// models.ErrStoreUnavailable.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if err == nil || isOutcome(err) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

// State returns the breaker state name
func (g *Guard) State() string {
	return g.cb.State().String()
}

// Call is Do for operations that return a value
func Call[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

func isOutcome(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrForbidden) ||
		errors.Is(err, models.ErrInvalidTransition)
}

// Retry calls fn with exponential backoff until it succeeds, attempts run
// out or ctx is done. Used for connecting to backing services at startup.
func Retry(ctx context.Context, log *zap.Logger, what string, attempts uint, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("connection attempt failed",
				zap.String("target", what),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", attempts),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", what, err)
	}
	return nil
}
