package llm

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CircuitBreaker keeps one breaker per key (provider:kind)
type CircuitBreaker struct {
	breakers         map[string]*Breaker
	failureThreshold uint32
	successThreshold uint32
	cooldown         time.Duration
	logger           *logrus.Logger
	mu               sync.RWMutex
}

// Breaker represents a single circuit breaker
type Breaker struct {
	failureThreshold uint32
	successThreshold uint32
	cooldown         time.Duration

	failures    uint32
	successes   uint32
	lastFailure time.Time
	state       BreakerState
	mu          sync.Mutex
}

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// NewCircuitBreaker creates a new circuit breaker.
// A non-positive threshold disables breaking.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if failureThreshold < 0 {
		failureThreshold = 0
	}
	return &CircuitBreaker{
		breakers:         make(map[string]*Breaker),
		failureThreshold: uint32(failureThreshold),
		successThreshold: 1,
		cooldown:         cooldown,
		logger:           logger,
	}
}

// Allow returns ErrCircuitOpen when calls for key must not be attempted
func (cb *CircuitBreaker) Allow(key string) error {
	if cb == nil || cb.failureThreshold == 0 {
		return nil
	}
	if cb.getOrCreateBreaker(key).getState() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordFailure counts a failure that indicates upstream ill health
func (cb *CircuitBreaker) RecordFailure(key string) {
	if cb == nil || cb.failureThreshold == 0 {
		return
	}
	if cb.getOrCreateBreaker(key).recordFailure() {
		cb.logger.WithField("breaker", key).Warn("Circuit breaker opened")
	}
}

// RecordSuccess counts a successful call
func (cb *CircuitBreaker) RecordSuccess(key string) {
	if cb == nil || cb.failureThreshold == 0 {
		return
	}
	if cb.getOrCreateBreaker(key).recordSuccess() {
		cb.logger.WithField("breaker", key).Info("Circuit breaker closed")
	}
}

// getOrCreateBreaker gets or creates a breaker for a key
func (cb *CircuitBreaker) getOrCreateBreaker(key string) *Breaker {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if exists {
		return breaker
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := cb.breakers[key]; exists {
		return breaker
	}

	breaker = &Breaker{
		failureThreshold: cb.failureThreshold,
		successThreshold: cb.successThreshold,
		cooldown:         cb.cooldown,
		state:            StateClosed,
	}

	cb.breakers[key] = breaker
	return breaker
}

// getState returns the current state, moving Open to HalfOpen after the cooldown
func (b *Breaker) getState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) > b.cooldown {
		b.state = StateHalfOpen
		b.failures = 0
		b.successes = 0
	}

	return b.state
}

// recordFailure records a failure and reports whether the breaker opened
func (b *Breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			return true
		}
	case StateHalfOpen:
		b.state = StateOpen
		return true
	}
	return false
}

// recordSuccess records a success and reports whether the breaker closed
func (b *Breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.successThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			return true
		}
	}
	return false
}

// GetState returns the state of a specific breaker
func (cb *CircuitBreaker) GetState(key string) BreakerState {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if !exists {
		return StateClosed
	}

	return breaker.getState()
}

// Reset resets a specific breaker
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if breaker, exists := cb.breakers[key]; exists {
		breaker.mu.Lock()
		breaker.state = StateClosed
		breaker.failures = 0
		breaker.successes = 0
		breaker.mu.Unlock()
	}
}
