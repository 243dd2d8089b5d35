// Package resilience keeps slow or failing dependencies (the record source,
// the query cache, Kafka) from stalling index builds and searches: a circuit
// breaker, retry with backoff and a timeout wrapper. Failures are reported
// with the kinds of pkg/errors so callers map them to statuses unchanged.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// ErrCircuitOpen is wrapped by every call the breaker refuses. The refusal
// also matches apperrors.ErrUnavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// CircuitBreakerConfig controls when the breaker trips and how it recovers.
// IsFailure decides which errors count against the dependency; by default
// every error except a caller cancellation does.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailure           func(error) bool
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker stops calling a dependency after FailureThreshold
// consecutive failures. After ResetTimeout it lets HalfOpenMaxRequests
// trial calls through; one success closes it again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	trialCalls int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the breaker is open. A refused call returns an
// error matching both ErrCircuitOpen and apperrors.ErrUnavailable.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker, for example after the dependency was replaced.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "manual reset")
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
		if wait > 0 {
			return cb.refuse("retry after %v", wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen, "reset timeout elapsed")
		fallthrough
	case StateHalfOpen:
		if cb.trialCalls >= cb.cfg.HalfOpenMaxRequests {
			return cb.refuse("trial call in flight")
		}
		cb.trialCalls++
	}
	return nil
}

func (cb *CircuitBreaker) refuse(format string, args ...any) error {
	return &apperrors.OpError{
		Kind: apperrors.ErrUnavailable,
		Op:   cb.name,
		Err:  fmt.Errorf("%w: "+format, append([]any{ErrCircuitOpen}, args...)...),
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && !cb.cfg.IsFailure(err) {
		// says nothing about the dependency; free the trial slot
		if cb.state == StateHalfOpen && cb.trialCalls > 0 {
			cb.trialCalls--
		}
		return
	}
	if err == nil {
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed, "trial call succeeded")
		}
		cb.failures = 0
		return
	}
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen, "trial call failed")
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen, "failure threshold reached")
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.trialCalls = 0
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.logger.Warn("circuit opened", "from", from.String(), "reason", reason, "consecutive_failures", cb.failures)
	case StateClosed:
		cb.failures = 0
		cb.logger.Info("circuit closed", "from", from.String(), "reason", reason)
	default:
		cb.logger.Info("circuit half-open", "reason", reason)
	}
}
