// Package backoff computes retry waits for calls throttled by upstream
// rate limiting. State is tracked per tenant+resource pair so one
// tenant's throttling never delays another's requests.
package backoff

import (
	"context"
	"sync"
	"time"

	backoffv5 "github.com/cenkalti/backoff/v5"
)

const (
	// DefaultBase is the starting wait after the first failure.
	DefaultBase = 500 * time.Millisecond

	// DefaultMultiplier doubles the ceiling on each consecutive failure.
	DefaultMultiplier = 2.0

	// DefaultMax caps the computed wait regardless of attempt count.
	DefaultMax = 120 * time.Second

	// DefaultRandomization spreads waits across the full interval to
	// avoid synchronized retry storms.
	DefaultRandomization = 0.5
)

// Config tunes the governor. Zero values fall back to defaults.
type Config struct {
	Base          time.Duration
	Multiplier    float64
	Max           time.Duration
	Randomization float64
}

// Governor owns per-key exponential backoff state.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*backoffv5.ExponentialBackOff
}

// New creates a governor with the given configuration.
func New(cfg Config) *Governor {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Randomization <= 0 {
		cfg.Randomization = DefaultRandomization
	}

	return &Governor{
		cfg:    cfg,
		states: make(map[string]*backoffv5.ExponentialBackOff),
	}
}

func key(tenant, resource string) string {
	return tenant + "\x00" + resource
}

// Next returns the wait before the next retry for the given
// tenant+resource, advancing that key's attempt counter. The returned
// duration never exceeds the configured cap.
func (g *Governor) Next(tenant, resource string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(tenant, resource)
	state, ok := g.states[k]
	if !ok {
		state = backoffv5.NewExponentialBackOff()
		state.InitialInterval = g.cfg.Base
		state.Multiplier = g.cfg.Multiplier
		state.MaxInterval = g.cfg.Max
		state.RandomizationFactor = g.cfg.Randomization
		state.Reset()
		g.states[k] = state
	}

	wait := state.NextBackOff()
	if wait > g.cfg.Max {
		wait = g.cfg.Max
	}
	return wait
}

// Success resets the key's state to attempt zero. Backoff must not
// accumulate across unrelated successful traffic.
func (g *Governor) Success(tenant, resource string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, key(tenant, resource))
}

// Wait blocks for the next computed backoff interval, or the upstream
// Retry-After hint when that is longer, capped at the configured
// maximum. It returns early with the context error on cancellation.
func (g *Governor) Wait(ctx context.Context, tenant, resource string, retryAfter time.Duration) error {
	wait := g.Next(tenant, resource)
	if retryAfter > wait {
		wait = retryAfter
	}
	if wait > g.cfg.Max {
		wait = g.cfg.Max
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cap returns the configured maximum wait.
func (g *Governor) Cap() time.Duration {
	return g.cfg.Max
}
