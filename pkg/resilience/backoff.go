package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Backoff retries an operation with exponentially growing, jittered delays.
// Zero fields take the defaults: 3 attempts, 100ms base, 10s cap, factor 2
// and 10% jitter.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   float64
	// Retryable reports whether err is transient. Nil treats every error
	// as transient.
	Retryable func(error) bool
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Base <= 0 {
		b.Base = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	if b.Jitter <= 0 || b.Jitter > 1 {
		b.Jitter = 0.1
	}
	return b
}

// Delay is the pause after failed attempt n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()
	d := float64(b.Base) * math.Pow(b.Factor, float64(n-1))
	d += d * b.Jitter * (2*rand.Float64() - 1)
	return time.Duration(min(max(d, float64(b.Base)/2), float64(b.Max)))
}

// Run calls fn until it succeeds, fails permanently, runs out of attempts
// or ctx ends.
func (b Backoff) Run(ctx context.Context, name string, fn func(attempt int) error) error {
	b = b.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info("recovered", "attempt", attempt)
			}
			return nil
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if attempt == b.Attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
		}
		delay := b.Delay(attempt)
		logger.Warn("attempt failed", "attempt", attempt, "of", b.Attempts, "error", err, "retry_in", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry abandoned: %w", name, ctx.Err())
		}
	}
}
