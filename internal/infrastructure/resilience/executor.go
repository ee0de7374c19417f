package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Observer is told about breaker transitions and scheduled retries of outbound calls
// to the rasterizer, the segmentation services and the message broker.
type Observer interface {
	BreakerStateChanged(operation, state string)
	RetryScheduled(operation string)
}

// Executor guards every outbound collaborator call. Each operation name gets its own
// breaker and, when RateLimit is set, its own limiter.
type Executor struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	limiters map[string]*rate.Limiter
}

func NewExecutor(cfg Config) *Executor {
	cfg = cfg.normalize()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		logger:   logger,
		observer: cfg.Observer,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Execute runs fn with retries inside the operation's breaker. An open breaker
// fails fast with gobreaker.ErrOpenState, see IsCircuitOpen.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	run := func() error { return e.retry(ctx, op, fn, classifier) }
	if !e.cfg.BreakerEnabled {
		return run()
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, run()
	})
	return err
}

func (e *Executor) retry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	limiter := e.limiter(operation)
	wait := e.cfg.RetryInitialBackoff

	var err error
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		if limiter != nil {
			if limitErr := limiter.Wait(ctx); limitErr != nil {
				return fmt.Errorf("resilience: %s rate limit: %w", operation, limitErr)
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable || attempt == e.cfg.RetryMaxAttempts {
			return err
		}

		wait = min(wait, e.cfg.RetryMaxBackoff)
		e.logger.Warn("outbound_retry",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if e.observer != nil {
			e.observer.RetryScheduled(operation)
		}
		if !sleep(ctx, wait) {
			return err
		}
		wait = time.Duration(float64(wait) * e.cfg.RetryMultiplier)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.observer != nil {
				e.observer.BreakerStateChanged(name, to.String())
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

func (e *Executor) limiter(operation string) *rate.Limiter {
	if e.cfg.RateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.limiters[operation]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateBurst)
	e.limiters[operation] = l
	return l
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
