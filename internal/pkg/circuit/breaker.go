package circuit

import (
	"sync"
	"time"

	"polaris/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// CircuitBreaker guards a flaky dependency. After threshold consecutive
// failures it opens and callers fail fast until the cool-down elapses,
// then a single probe decides whether to close again.
type CircuitBreaker struct {
	name      string
	threshold int
	coolDown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(name string, threshold int, coolDown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{name: name, threshold: threshold, coolDown: coolDown}
}

// Allow reports whether a call may proceed. While open it returns false
// until the cool-down has elapsed, at which point the breaker moves to
// half-open and lets exactly one probe through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.coolDown {
			return false
		}
		cb.moveTo(StateHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.moveTo(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		// probe failed, back to open for another full cool-down
		cb.openedAt = time.Now()
		cb.moveTo(StateOpen)
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = time.Now()
			cb.moveTo(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	cb.state = to
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d)", cb.name, from, to, cb.failures, cb.threshold)
}
