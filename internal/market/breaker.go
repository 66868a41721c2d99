package market

import (
	"sync"
	"time"
)

// BreakerConfig defines per-provider circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures to trip
	OpenCooldown     time.Duration `yaml:"open_cooldown"`     // initial open window
	MaxCooldown      time.Duration `yaml:"max_cooldown"`      // backoff bound
}

// DefaultBreakerConfig returns the standard provider breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		OpenCooldown:     30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	}
}

// Breaker tracks failures for one provider. Three states: closed (calls
// flow), open (calls rejected until the cooldown passes), half-open (the
// next call is a trial). A failed trial re-opens with a doubled cooldown,
// bounded by MaxCooldown; a successful trial closes and resets.
type Breaker struct {
	mu            sync.Mutex
	config        BreakerConfig
	state         CircuitState
	consecutive   int
	totalFailures int64
	lastFailure   time.Time
	cooldown      time.Duration
	cooldownUntil time.Time

	now func() time.Time // injectable for tests
}

// NewBreaker creates a closed breaker with the given config.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.OpenCooldown <= 0 {
		config.OpenCooldown = 30 * time.Second
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 10 * time.Minute
	}
	return &Breaker{
		config:   config,
		state:    CircuitClosed,
		cooldown: config.OpenCooldown,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning an expired
// open circuit to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if b.now().After(b.cooldownUntil) {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes a half-open circuit and resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.state == CircuitHalfOpen {
		b.state = CircuitClosed
		b.cooldown = b.config.OpenCooldown
	}
}

// RecordFailure counts one failure. Past the threshold the circuit
// opens; a half-open failure re-opens with doubled cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	b.totalFailures++
	b.lastFailure = b.now()

	switch b.state {
	case CircuitClosed:
		if b.consecutive >= b.config.FailureThreshold {
			b.open()
		}
	case CircuitHalfOpen:
		b.cooldown *= 2
		if b.cooldown > b.config.MaxCooldown {
			b.cooldown = b.config.MaxCooldown
		}
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = CircuitOpen
	b.cooldownUntil = b.now().Add(b.cooldown)
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit and clears all counters. Admin action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.consecutive = 0
	b.cooldown = b.config.OpenCooldown
	b.cooldownUntil = time.Time{}
}

// Snapshot returns a health record for the given provider name.
func (b *Breaker) Snapshot(provider string) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		Provider:      provider,
		State:         b.state,
		Circuit:       b.state.String(),
		Failures:      b.totalFailures,
		Consecutive:   b.consecutive,
		LastFailure:   b.lastFailure,
		CooldownUntil: b.cooldownUntil,
	}
}
