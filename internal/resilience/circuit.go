package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets a probe through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls rejected by an open circuit.
var ErrCircuitOpen = eris.New("resilience: circuit breaker is open")

// BreakerConfig controls a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// open the circuit. Default: 5.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is let
	// through. Default: 30s.
	Cooldown time.Duration
	// ShouldTrip decides which errors count as failures. Default: IsTransient,
	// so a 4xx from a healthy server never opens the circuit.
	ShouldTrip func(err error) bool
	// OnStateChange is called with the lock held; it must not call back into
	// the breaker.
	OnStateChange func(from, to CircuitState)
	// Now supplies the current time. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker stops calls to a failing upstream for a cooldown period.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Call runs fn unless the circuit is open. While half-open only one probe
// runs at a time; other callers are rejected until it settles.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := cb.admit()
	if err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	cb.record(err, probe)
	return v, err
}

// State returns the current state. An open circuit whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooledLocked() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures returns the current run of consecutive tripping failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeActive = false
	cb.transitionLocked(CircuitClosed)
}

func (cb *CircuitBreaker) cooledLocked() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		if !cb.cooledLocked() {
			return false, ErrCircuitOpen
		}
		cb.transitionLocked(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.probeActive {
			return false, ErrCircuitOpen
		}
		cb.probeActive = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probeActive = false
	}

	// Cancellation says nothing about upstream health.
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.transitionLocked(CircuitClosed)
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == CircuitHalfOpen:
		cb.openedAt = cb.cfg.Now()
		cb.transitionLocked(CircuitOpen)
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.cfg.Now()
		cb.transitionLocked(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
