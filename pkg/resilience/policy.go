// Package resilience guards calls to remote scoring services. A Policy
// combines a rate limiter, a per-attempt timeout, retries with backoff and
// a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kueri-lab/trecpipe/pkg/config"
)

// ErrAttemptTimeout marks an attempt cut off by the per-attempt timeout
// while the caller was still waiting.
var ErrAttemptTimeout = errors.New("attempt timed out")

type PolicyConfig struct {
	// Rate is the sustained requests per second; 0 is unlimited.
	Rate    float64
	Burst   int
	Timeout time.Duration
	Backoff Backoff
	Breaker BreakerConfig
}

// FromQualityAPI maps the quality.api settings onto a policy.
func FromQualityAPI(cfg config.QualityAPIConfig) PolicyConfig {
	return PolicyConfig{
		Rate:    cfg.RateLimit,
		Burst:   cfg.Burst,
		Timeout: cfg.Timeout,
		Backoff: Backoff{Attempts: cfg.MaxAttempts},
	}
}

type Policy struct {
	name    string
	limiter *rate.Limiter
	timeout time.Duration
	backoff Backoff
	breaker *Breaker
}

func NewPolicy(name string, cfg PolicyConfig) *Policy {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Policy{
		name:    name,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		timeout: cfg.Timeout,
		backoff: cfg.Backoff,
		breaker: NewBreaker(name, cfg.Breaker),
	}
}

// Do counts as one call against the breaker. Inside it every attempt waits
// for the limiter and runs under the attempt timeout.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.breaker.Do(func() error {
		return p.backoff.Run(ctx, p.name, func(int) error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			return attempt(ctx, p.timeout, fn)
		})
	})
}

func (p *Policy) State() State { return p.breaker.State() }

// Burst is how many calls may start at once.
func (p *Policy) Burst() int { return p.limiter.Burst() }

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrAttemptTimeout, timeout, err)
	}
	return err
}
