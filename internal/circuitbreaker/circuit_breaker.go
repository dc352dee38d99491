// Package circuitbreaker protects calls to the upstream message provider.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pro-subscriber/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the service has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MinCalls is the number of calls observed before the failure rate is considered
	MinCalls         int
	FailureThreshold float64
	MaxConsecutive   int
	Timeout          time.Duration
	HalfOpenMaxCalls int
	// IsFailure decides which errors count against the upstream; nil counts every error
	IsFailure func(error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MinCalls:         10,
		FailureThreshold: 0.5,
		MaxConsecutive:   5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	calls            int
	inFlight         int
	consecutiveFails int
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cfg := *config
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		cfg:             cfg,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute executes a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	// a cancelled caller says nothing about upstream health
	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}

	cb.afterRequest(cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight+cb.calls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
	}

	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.inFlight--
}

func (cb *CircuitBreaker) afterRequest(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight--
	cb.calls++

	if !failed {
		cb.successes++
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMaxCalls {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			logging.WithFields(map[string]interface{}{
				"circuitBreaker":   cb.cfg.Name,
				"failures":         cb.failures,
				"calls":            cb.calls,
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("Circuit breaker opened due to failures")
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.cfg.MaxConsecutive > 0 && cb.consecutiveFails >= cb.cfg.MaxConsecutive {
		return true
	}
	if cb.calls < cb.cfg.MinCalls {
		return false
	}
	return float64(cb.failures)/float64(cb.calls) >= cb.cfg.FailureThreshold
}

// transition changes state and clears the counters of the previous window
func (cb *CircuitBreaker) transition(state State) {
	if cb.state != state {
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"from":           cb.state,
			"to":             state,
		}).Info("Circuit breaker state change")
	}
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.calls = 0
	cb.consecutiveFails = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	Calls            int       `json:"calls"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns statistics for the current window
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		Calls:            cb.calls,
		ConsecutiveFails: cb.consecutiveFails,
		LastStateChange:  cb.lastStateChange,
	}
}
