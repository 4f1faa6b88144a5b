// Package circuit isolates failing providers and reroutes traffic to healthy
// ones while a provider's circuit is open.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second

	ReasonCircuitOpen = "circuit_open"
)

// State is the position of a provider in the breaker state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Snapshot is a point-in-time copy of one provider's circuit.
type Snapshot struct {
	Provider            providers.ProviderKey `json:"provider"`
	State               State                 `json:"state"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	LastFailureAt       *time.Time            `json:"last_failure_at"`
}

// CircuitOpenError is returned when a provider's circuit is open and no
// fallback provider is available.
type CircuitOpenError struct {
	Provider   providers.ProviderKey
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s. Retry after %ds", e.Provider, e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *CircuitOpenError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Catalogue supplies the fallback order and the native flag.
type Catalogue interface {
	Order() []providers.ProviderKey
	IsNative(id providers.ProviderKey) bool
}

// FallbackObserver is told about every substitution.
type FallbackObserver func(from, to providers.ProviderKey, reason string)

type circuit struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks per-provider health. Each provider has its own lock; the map
// lock is only held to find or create an entry.
type Breaker struct {
	mu       sync.RWMutex
	circuits map[providers.ProviderKey]*circuit

	catalogue Catalogue
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	eligible  func(providers.ProviderKey) bool
	observer  FallbackObserver
	logger    *slog.Logger
}

type Option func(*Breaker)

func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithEligible restricts fallback candidates, e.g. to providers that have
// credentials configured.
func WithEligible(fn func(providers.ProviderKey) bool) Option {
	return func(b *Breaker) { b.eligible = fn }
}

func WithObserver(fn FallbackObserver) Option {
	return func(b *Breaker) { b.observer = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

func New(catalogue Catalogue, opts ...Option) *Breaker {
	b := &Breaker{
		circuits:  make(map[providers.ProviderKey]*circuit),
		catalogue: catalogue,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Breaker) get(p providers.ProviderKey) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[p]
	b.mu.RUnlock()

	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok = b.circuits[p]; !ok {
		c = &circuit{state: StateClosed}
		b.circuits[p] = c
	}

	return c
}

// allow applies the lazy open to half-open transition and reports whether a
// call may go through. When it may not, the remaining cooldown is returned.
func (b *Breaker) allow(p providers.ProviderKey) (bool, time.Duration) {
	c := b.get(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return true, 0
	}

	elapsed := b.now().Sub(c.lastFailure)
	if elapsed > b.cooldown {
		c.state = StateHalfOpen
		b.logger.Debug("Circuit breaker transitioning to half-open", "provider", p)

		return true, 0
	}

	return false, b.cooldown - elapsed
}

// IsOpen reports whether calls to p are currently blocked.
func (b *Breaker) IsOpen(p providers.ProviderKey) bool {
	allowed, _ := b.allow(p)
	return !allowed
}

func (b *Breaker) IsClosed(p providers.ProviderKey) bool {
	return b.State(p).State == StateClosed
}

// RecordSuccess closes a half-open circuit or decays the failure count of a
// closed one by one.
func (b *Breaker) RecordSuccess(p providers.ProviderKey) {
	c := b.get(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalfOpen:
		c.state = StateClosed
		c.failures = 0
		c.lastFailure = time.Time{}
		b.logger.Debug("Circuit breaker closed", "provider", p)
	case StateClosed:
		if c.failures > 0 {
			c.failures--
		}
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (b *Breaker) RecordFailure(p providers.ProviderKey, err error) {
	c := b.get(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = b.now()

	if c.failures >= b.threshold && c.state != StateOpen {
		c.state = StateOpen
		b.logger.Warn("Circuit breaker opened", "provider", p, "failures", c.failures, "error", err)
	}
}

func (b *Breaker) Reset(p providers.ProviderKey) {
	b.get(p).reset()
}

// ResetAll closes every known circuit. Entries stay in place so callers
// already holding one keep recording into the live map.
func (b *Breaker) ResetAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.circuits {
		c.reset()
	}
}

func (c *circuit) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.failures = 0
	c.lastFailure = time.Time{}
}

// State returns a snapshot of p without applying any transition.
func (b *Breaker) State(p providers.ProviderKey) Snapshot {
	c := b.get(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot(p)
}

// States returns every tracked circuit ordered by provider key.
func (b *Breaker) States() []Snapshot {
	b.mu.RLock()
	keys := make([]providers.ProviderKey, 0, len(b.circuits))
	for k := range b.circuits {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	slices.Sort(keys)

	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.State(k))
	}

	return out
}

func (c *circuit) snapshot(p providers.ProviderKey) Snapshot {
	s := Snapshot{Provider: p, State: c.state, ConsecutiveFailures: c.failures}
	if !c.lastFailure.IsZero() {
		t := c.lastFailure
		s.LastFailureAt = &t
	}

	return s
}

// Fallback picks the next provider after current in the catalogue order,
// wrapping around, that is not open, not native, eligible and not in skip.
func (b *Breaker) Fallback(current providers.ProviderKey, skip map[providers.ProviderKey]bool) (providers.ProviderKey, bool) {
	order := b.catalogue.Order()
	start := slices.Index(order, current)

	candidates := make([]providers.ProviderKey, 0, len(order))
	candidates = append(candidates, order[start+1:]...)
	candidates = append(candidates, order[:max(start, 0)]...)

	for _, candidate := range candidates {
		if candidate == current || skip[candidate] {
			continue
		}

		if b.catalogue.IsNative(candidate) {
			continue
		}

		if b.eligible != nil && !b.eligible(candidate) {
			continue
		}

		if b.IsOpen(candidate) {
			continue
		}

		return candidate, true
	}

	return "", false
}

// Execute runs fn against provider p, or against a fallback when p's circuit
// is open and still cooling down. fn receives the provider it runs against.
// Failures are recorded and returned unchanged; caller cancellation is not
// counted against the provider.
func Execute[T any](ctx context.Context, b *Breaker, p providers.ProviderKey, fn func(ctx context.Context, p providers.ProviderKey) (T, error)) (T, error) {
	var zero T

	current := p
	tried := map[providers.ProviderKey]bool{}

	for {
		allowed, retryAfter := b.allow(current)
		if allowed {
			break
		}

		tried[current] = true

		next, ok := b.Fallback(current, tried)
		if !ok {
			if current != p {
				_, retryAfter = b.allow(p)
			}

			return zero, &CircuitOpenError{Provider: p, RetryAfter: retryAfter}
		}

		b.logger.Warn("Circuit open, falling back", "from", current, "to", next)

		if b.observer != nil {
			b.observer(current, next, ReasonCircuitOpen)
		}

		current = next
	}

	result, err := fn(ctx, current)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.RecordFailure(current, err)
		}

		return zero, err
	}

	b.RecordSuccess(current)

	return result, nil
}
