package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreflux/busline/pkg/resilience"
)

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	cfg := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2}
	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the last error back, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	terminal := errors.New("schema mismatch")
	calls := 0
	cfg := resilience.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		RetryIf:        func(err error) bool { return !errors.Is(err, terminal) },
	}
	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal error must not be retried, got %d attempts", calls)
	}
}

func TestRetryHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := resilience.RetryConfig{MaxAttempts: 10, InitialBackoff: time.Second}
	err := resilience.Retry(ctx, cfg, func(ctx context.Context) error {
		return errors.New("still failing")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Timeout:          time.Hour,
	})

	failing := func(ctx context.Context) error { return errors.New("down") }
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("expected open after %d failures, got %s", 2, got)
	}

	calls := 0
	err := cb.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("open circuit must not invoke the executor")
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()

	cb.Execute(ctx, func(ctx context.Context) error { return errors.New("down") })
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("probe after cooldown should run, got %v", err)
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", got)
	}
}
