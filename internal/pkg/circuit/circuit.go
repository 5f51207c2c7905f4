package circuit

import (
	"sync"
	"time"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards a flaky dependency. Closed passes calls through and
// counts consecutive failures inside a monitoring window; reaching the
// threshold opens the breaker, which fast-fails until the recovery timeout
// elapses. The first call after the timeout is the single half-open probe:
// success closes the breaker, failure re-opens it.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	firstFailure  time.Time
	lastFailure   time.Time
	threshold     int
	window        time.Duration
	timeout       time.Duration
	probing       bool
	name          string
	nowFn         func() time.Time
	onStateChange func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, window, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		window:    window,
		timeout:   timeout,
		state:     StateClosed,
		nowFn:     time.Now,
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// Allow reports whether a call may proceed. A rejection returns a
// CircuitOpen error carrying the remaining cooldown.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFn()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if elapsed := now.Sub(cb.lastFailure); elapsed > cb.timeout {
			cb.transition(StateHalfOpen)
			cb.probing = true
			return nil
		}
		return errs.CircuitOpen(cb.name, cb.timeout-now.Sub(cb.lastFailure))
	case StateHalfOpen:
		// One probe only. Everyone else waits for its verdict.
		if cb.probing {
			return errs.CircuitOpen(cb.name, cb.timeout)
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failures = 0
		cb.probing = false
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFn()
	// Consecutive failures only count within the monitoring window.
	if cb.window > 0 && cb.failures > 0 && now.Sub(cb.firstFailure) > cb.window {
		cb.failures = 0
	}
	if cb.failures == 0 {
		cb.firstFailure = now
	}
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.probing = false
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	} else {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, timeout=%s)",
			cb.name, from, to, cb.failures, cb.threshold, cb.timeout)
	}
}
