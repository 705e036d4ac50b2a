// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff, circuit breaker, and bulkhead.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	MaxConcurrency int
}

// Backoff is an exponential backoff schedule with a cap.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// BackoffFrom builds the schedule described by cfg, filling defaults.
func BackoffFrom(cfg Config) Backoff {
	b := Backoff{Initial: cfg.InitialBackoff, Multiplier: cfg.Multiplier, Max: cfg.MaxBackoff}
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.Max <= 0 {
		b.Max = 2 * time.Minute
	}
	return b
}

// Step returns the wait for the current delay and the delay to use next.
// floor raises the current delay before the cap is applied, so a server
// hint like "retry after 60s" is honoured while the schedule keeps growing.
func (b Backoff) Step(current, floor time.Duration) (wait, next time.Duration) {
	if current <= 0 {
		current = b.Initial
	}
	if floor > current {
		current = floor
	}
	wait = current
	if wait > b.Max {
		wait = b.Max
	}
	next = time.Duration(math.Min(float64(current)*b.Multiplier, math.MaxInt64))
	return wait, next
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			jitter := time.Duration(0)
			if half := int64(backoff / 2); half > 0 {
				jitter = time.Duration(rand.Int63n(half))
			}
			if err := Sleep(ctx, backoff+jitter); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// NewCircuitBreaker creates a circuit breaker for one upstream surface.
// Only failures reported through the breaker count; callers decide which
// errors are the upstream's fault via isSuccessful.
func NewCircuitBreaker(name string, logger *zap.Logger, isSuccessful func(error) bool) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    60 * time.Second, // closed: reset counters every minute
		Timeout:     30 * time.Second, // open -> half-open after 30s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot only if one is free right now.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// InUse returns the number of held slots.
func (b *Bulkhead) InUse() int {
	return len(b.sem)
}

// Capacity returns the maximum number of slots.
func (b *Bulkhead) Capacity() int {
	return cap(b.sem)
}
