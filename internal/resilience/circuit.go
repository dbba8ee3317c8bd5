package resilience

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// CircuitState represents the current mode of a circuit breaker.
type CircuitState int

const (
	// StateClosed indicates normal operation; calls pass through.
	StateClosed CircuitState = iota
	// StateOpen indicates calls are blocked until the reset timeout elapses.
	StateOpen
	// StateHalfOpen indicates the breaker is probing with limited calls.
	StateHalfOpen
)

// String returns a human-readable representation of the circuit state.
func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned by Execute when the circuit is open and the
// reset timeout has not yet elapsed. The wrapped operation is never invoked.
type ErrCircuitOpen struct {
	// Name is the upstream dependency the breaker guards.
	Name string
	// RetryIn is how long until the breaker becomes eligible to probe.
	RetryIn time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit %q open, retry in %v", e.Name, e.RetryIn.Round(time.Millisecond))
}

// BreakerConfig contains configuration for a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenSuccesses is the number of successes required in half-open
	// state before the circuit closes again.
	HalfOpenSuccesses int
}

// DefaultBreakerConfig returns the standard breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// CircuitBreaker guards a stream of calls to one named upstream dependency.
// State is owned exclusively by the breaker instance and mutated only through
// its methods. The open-to-half-open transition is lazy: it happens on the
// next state query after the reset timeout elapses, not via a background
// timer.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probeWins   int
}

// NewCircuitBreaker creates a breaker for the named dependency. Zero config
// values fall back to the defaults.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// Name returns the name of the guarded dependency.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, applying the lazy open-to-half-open
// transition if the reset timeout has elapsed.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// stateLocked re-evaluates the state. Must be called with the lock held.
func (b *CircuitBreaker) stateLocked() CircuitState {
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.probeWins = 0
		log.Printf("[circuit] %s: open -> half-open, probing", b.name)
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs op through the breaker. If the circuit is open and the reset
// timeout has not elapsed, it fails immediately with ErrCircuitOpen carrying
// the remaining wait and op is never invoked.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.stateLocked() == StateOpen {
		retryIn := b.cfg.ResetTimeout - time.Since(b.lastFailure)
		b.mu.Unlock()
		return &ErrCircuitOpen{Name: b.name, RetryIn: retryIn}
	}
	b.mu.Unlock()

	err := op(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// recordSuccess resets the failure counter in closed state and counts probe
// wins in half-open state, closing the circuit once enough accumulate.
func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateHalfOpen:
		b.probeWins++
		if b.probeWins >= b.cfg.HalfOpenSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.probeWins = 0
			log.Printf("[circuit] %s: half-open -> closed", b.name)
		}
	default:
		b.failures = 0
	}
}

// recordFailure records the failure timestamp and counter. A failure while
// half-open reopens the circuit immediately; a failure while closed opens it
// once the threshold is reached.
func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()
	b.failures++
	b.lastFailure = time.Now()

	switch state {
	case StateHalfOpen:
		b.state = StateOpen
		log.Printf("[circuit] %s: probe failed, half-open -> open", b.name)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			log.Printf("[circuit] %s: %d consecutive failures, closed -> open", b.name, b.failures)
		}
	}
}

// Reset forces the circuit closed regardless of history.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probeWins = 0
	log.Printf("[circuit] %s: manual reset to closed", b.name)
}
