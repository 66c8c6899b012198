package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// ErrCircuitOpen is returned without calling the dependency while the
// circuit is open.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig sets when a Breaker opens and how it recovers. Zero fields
// take the defaults: 5 failures, 30s cooldown, 1 probe.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Probes    int
	// OnStateChange is called under the breaker lock after every transition.
	OnStateChange func(name string, s State)
}

// Breaker stops calling a dependency after Threshold consecutive failures.
// Once Cooldown has passed, Probes calls are let through and the first
// outcome closes or reopens the circuit. Calls abandoned by the caller do
// not count either way.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Do runs fn unless the circuit is open and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - time.Since(b.openedAt)
		if wait > 0 {
			return apperrors.Newf(ErrCircuitOpen, b.name, "retry in %v", wait.Round(time.Millisecond))
		}
		b.transition(StateHalfOpen)
		b.probes = 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.Probes {
			return apperrors.New(ErrCircuitOpen, b.name, "probe in flight")
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.failures = 0
		b.probes = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
			b.logger.Info("circuit closed")
		}
	case errors.Is(err, context.Canceled):
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			if b.state != StateOpen {
				b.logger.Warn("circuit opened", "consecutive_failures", b.failures, "error", err)
			}
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, s)
	}
}
