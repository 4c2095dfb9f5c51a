package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit is open and fast-failing.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned in half-open state once the probe budget
// for the current window is spent.
var ErrTooManyRequests = errors.New("circuit breaker half-open request limit reached")

// State is the circuit's position in its closed → open → half-open cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreakerConfig tunes a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in state-change callbacks and logs.
	Name string

	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int64

	// SuccessThreshold is how many half-open successes close it again.
	SuccessThreshold int64

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// OnStateChange, when set, observes every transition.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker prevents cascading failures by fast-failing calls to a
// downstream that has exceeded its failure threshold, then probing it with
// limited traffic after Timeout.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.RWMutex
	state         State
	failures      int64
	successes     int64
	lastFailure   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: cfg,
		state:  StateClosed,
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Executor) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenCount = 1
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.halfOpenCount >= 1 {
			return ErrTooManyRequests
		}
		cb.halfOpenCount++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
		} else {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.setState(StateOpen)
			}
		}

	case StateHalfOpen:
		if success {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.setState(StateClosed)
			} else {
				// Free the probe slot so the next call can probe.
				cb.halfOpenCount--
			}
		} else {
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	from := cb.state
	cb.state = state

	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0

	if state == StateOpen {
		cb.lastFailure = time.Now()
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.config.Name, from, state)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
