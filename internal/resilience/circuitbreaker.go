// Package resilience provides the breaker and retry primitives the
// provider clients are called through.
//
// [Breaker] is a three-state breaker (closed → open → half-open) that
// stops hammering an unhealthy provider; [BreakerGroup] hands out one
// breaker per provider name. [Retry] wraps calls with exponential
// backoff, honouring server-mandated Retry-After hints and
// permanent-error markers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-down has not yet elapsed. It is never permanent, so a stage
// hitting it is retried on a later pass.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cool-down
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe call through at a time. Enough
	// consecutive probe successes close the breaker; any probe failure
	// re-opens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the protected provider in log output.
	Name string

	// Threshold is the consecutive-failure count that trips the breaker.
	// Default 5. Permanent errors never count: a rejected request says
	// nothing about the provider's health.
	Threshold int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// Probes is the consecutive probe successes required to close again.
	// Default 2.
	Probes int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Breaker guards calls against a provider that has started failing.
type Breaker struct {
	name      string
	threshold int
	coolDown  time.Duration
	probes    int
	log       *slog.Logger

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probeBusy bool
	probesOK  int
}

// NewBreaker creates a breaker from cfg, filling defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		coolDown:  cfg.CoolDown,
		probes:    cfg.Probes,
		log:       cfg.Logger,
	}
}

// Do runs fn unless the breaker is open. While half-open, only one probe
// call is in flight at a time; concurrent callers get [ErrBreakerOpen].
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probesOK = 0
		b.probeBusy = false
		b.log.Info("breaker probing", "breaker", b.name)
		fallthrough
	case BreakerHalfOpen:
		if b.probeBusy {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probeBusy = true
	}
	probing := b.state == BreakerHalfOpen
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probing {
		b.probeBusy = false
	}

	switch {
	case err == nil:
		b.onSuccess(probing)
	case IsPermanent(err) || errors.Is(err, context.Canceled):
		// The provider answered (or the caller gave up); health unchanged.
	default:
		b.onFailure(probing)
	}
	return err
}

// onSuccess and onFailure run with b.mu held.

func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probesOK++
		if b.probesOK >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			b.log.Info("breaker closed", "breaker", b.name, "probes", b.probesOK)
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) onFailure(probing bool) {
	if probing {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.failures = b.threshold
		b.log.Warn("breaker re-opened by failed probe", "breaker", b.name)
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.log.Warn("breaker opened",
			"breaker", b.name, "consecutive_failures", b.failures)
	}
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.coolDown {
		return BreakerHalfOpen
	}
	return b.state
}

// BreakerGroup lazily hands out one breaker per provider name, all sharing
// the same tuning.
type BreakerGroup struct {
	defaults BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates a group whose breakers inherit defaults; the
// per-breaker Name is set from the For key.
func NewBreakerGroup(defaults BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		defaults: defaults,
		breakers: map[string]*Breaker{},
	}
}

// For returns the breaker for name, creating it on first use.
func (g *BreakerGroup) For(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[name]; ok {
		return b
	}
	cfg := g.defaults
	cfg.Name = name
	b := NewBreaker(cfg)
	g.breakers[name] = b
	return b
}
