package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"vatochito/gateway/internal/models"

	"go.uber.org/zap"
)

func TestGuardWrapsStoreFailures(t *testing.T) {
	g := NewGuard(Config{Name: "test"}, zap.NewNop())

	err := g.Do(context.Background(), func(context.Context) error {
		return errors.New("connection refused")
	})
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestGuardPassesOutcomesThrough(t *testing.T) {
	g := NewGuard(Config{Name: "test", MaxFailures: 1}, zap.NewNop())

	for i := 0; i < 5; i++ {
		err := g.Do(context.Background(), func(context.Context) error {
			return models.ErrNotFound
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			t.Fatalf("outcome must not be reported as outage")
		}
	}

	if g.State() != "closed" {
		t.Errorf("breaker state = %s, want closed", g.State())
	}
}

func TestGuardOpensAfterFailures(t *testing.T) {
	g := NewGuard(Config{Name: "test", MaxFailures: 2, ResetInterval: time.Minute}, zap.NewNop())
	fail := func(context.Context) error { return errors.New("boom") }

	_ = g.Do(context.Background(), fail)
	_ = g.Do(context.Background(), fail)

	called := false
	err := g.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("operation ran while breaker open")
	}
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable while open, got %v", err)
	}
}

func TestCallReturnsValue(t *testing.T) {
	g := NewGuard(Config{Name: "test"}, zap.NewNop())

	got, err := Call(context.Background(), g, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Call() = %d, %v", got, err)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), zap.NewNop(), "test", 3, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
