package request

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// maxShift caps the doubling exponent so the delay never overflows.
const maxShift = 16

// Cooldown tracks, per provider, how long callers must hold off after
// failures or an explicit Retry-After. Successes step the failure count
// down one at a time so a flapping provider recovers gradually.
type Cooldown struct {
	mu        sync.Mutex
	providers map[string]*cooldownState
	base      time.Duration
	max       time.Duration
	now       func() time.Time
	jitter    func(d time.Duration) time.Duration
}

type cooldownState struct {
	failures int
	until    time.Time
}

// NewCooldown creates a Cooldown doubling from base up to max.
func NewCooldown(base, max time.Duration) *Cooldown {
	return &Cooldown{
		providers: make(map[string]*cooldownState),
		base:      base,
		max:       max,
		now:       time.Now,
		jitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Float64() * 0.1 * float64(d))
		},
	}
}

func (c *Cooldown) state(provider string) *cooldownState {
	s, ok := c.providers[provider]
	if !ok {
		s = &cooldownState{}
		c.providers[provider] = s
	}
	return s
}

// Wait blocks until the provider may be called again or ctx ends.
func (c *Cooldown) Wait(ctx context.Context, provider string) error {
	wait := c.Remaining(provider)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remaining returns how long the provider is still cooling down.
func (c *Cooldown) Remaining(provider string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.providers[provider]
	if !ok {
		return 0
	}
	return max(0, s.until.Sub(c.now()))
}

// Failed counts a failure and pushes the provider's next slot out by
// base * 2^(failures-1), capped at max, plus up to 10% jitter.
func (c *Cooldown) Failed(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state(provider)
	s.failures++
	d := c.delay(s.failures)
	s.until = c.now().Add(d + c.jitter(d))
}

// Defer holds the provider off for at least d, as asked by a Retry-After.
func (c *Cooldown) Defer(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state(provider)
	if until := c.now().Add(min(d, c.max)); until.After(s.until) {
		s.until = until
	}
}

// Succeeded steps the failure count down and clears the cooldown once it
// reaches zero.
func (c *Cooldown) Succeeded(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.providers[provider]
	if !ok {
		return
	}
	if s.failures > 0 {
		s.failures--
	}
	if s.failures == 0 {
		delete(c.providers, provider)
	}
}

// Failures returns the current failure count of a provider.
func (c *Cooldown) Failures(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.providers[provider]; ok {
		return s.failures
	}
	return 0
}

func (c *Cooldown) delay(failures int) time.Duration {
	shift := min(failures-1, maxShift)
	d := c.base << shift
	if d > c.max || d <= 0 {
		d = c.max
	}
	return d
}
