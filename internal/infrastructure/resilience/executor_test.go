package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteRateLimitsPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 1,
		BreakerEnabled:   false,
		RateLimit:        20,
		RateBurst:        1,
	})

	noop := func(context.Context) error { return nil }
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "render", noop, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected limiter to space calls, took %s", elapsed)
	}

	// A different operation has its own bucket.
	start = time.Now()
	if err := exec.Execute(context.Background(), "segment", noop, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("expected first call of new operation to pass immediately, took %s", elapsed)
	}
}

func TestExecuteRateLimitHonoursContext(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 1,
		BreakerEnabled:   false,
		RateLimit:        0.1,
		RateBurst:        1,
	})
	noop := func(context.Context) error { return nil }
	if err := exec.Execute(context.Background(), "op", noop, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		calls++
		return nil
	}, nil)
	if err == nil {
		t.Fatalf("expected limiter wait to fail")
	}
	if calls != 0 {
		t.Fatalf("operation must not run when limiter wait fails, got %d calls", calls)
	}
}

type observerFake struct {
	retries     map[string]int
	transitions []string
}

func (o *observerFake) RetryScheduled(operation string) {
	if o.retries == nil {
		o.retries = map[string]int{}
	}
	o.retries[operation]++
}

func (o *observerFake) BreakerStateChanged(operation, state string) {
	o.transitions = append(o.transitions, operation+":"+state)
}

func TestExecuteReportsRetriesAndBreakerTransitions(t *testing.T) {
	observer := &observerFake{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
		Observer:                observer,
	})

	errDown := errors.New("sam unavailable")
	err := exec.Execute(context.Background(), "sam.segment", func(context.Context) error {
		return errDown
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errDown) {
		t.Fatalf("expected sam error, got %v", err)
	}
	if observer.retries["sam.segment"] != 1 {
		t.Fatalf("expected one scheduled retry, got %v", observer.retries)
	}
	if len(observer.transitions) != 1 || observer.transitions[0] != "sam.segment:open" {
		t.Fatalf("expected breaker to open, got %v", observer.transitions)
	}

	err = exec.Execute(context.Background(), "sam.segment", func(context.Context) error { return nil }, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
