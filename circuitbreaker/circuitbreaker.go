package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
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
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to an external provider. The lock is only held
// while deciding and recording, never while the protected call runs, so a slow
// provider does not serialise unrelated callers.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is open. A caller that cancels is not
// counted as a provider failure; an expired deadline is, since a provider
// that hangs until every timeout fires must still trip the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil && errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled) {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return cb.openError()
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		return nil
	case StateHalfOpen:
		// one probe at a time
		if cb.probeInFlight {
			return cb.openError()
		}
		cb.probeInFlight = true
	}
	return nil
}

// openError names the breaker so logs show which provider is being shed.
func (cb *CircuitBreaker) openError() error {
	return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probeInFlight = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
