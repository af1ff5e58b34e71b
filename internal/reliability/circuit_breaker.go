package reliability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means no failure is outstanding
	StateClosed State = iota
	// StateArmed means failures are being observed and the trigger timer runs
	StateArmed
	// StateTriggered means failures outlasted the wait time and the trigger fired
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// StateChangeListener receives circuit breaker state change notifications
type StateChangeListener interface {
	OnStateChange(from, to State, reason string)
}

// TriggerFunc is called once the breaker has seen failures without a success for the whole wait time
type TriggerFunc func(err error)

// CircuitBreaker trips when failures keep happening for longer than a wait time.
// The first Failure arms a timer; a Success before it expires disarms it. When the
// timer expires the trigger runs once and the breaker stays triggered until the next Success.
type CircuitBreaker struct {
	mu         sync.Mutex
	name       string
	timeToWait time.Duration
	trigger    TriggerFunc
	logger     *slog.Logger

	state        State
	generation   uint64
	timer        *time.Timer
	armedAt      time.Time
	lastErr      error
	failures     int64
	totalTrigger int64

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithTimeToWait sets how long failures must persist before the trigger fires
func WithTimeToWait(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeToWait = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// NewCircuitBreaker creates a new circuit breaker calling trigger when it trips
func NewCircuitBreaker(trigger TriggerFunc, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:       "default",
		timeToWait: 2 * time.Minute,
		trigger:    trigger,
		logger:     slog.Default(),
		state:      StateClosed,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Failure records a failure, arming the trigger timer when the breaker is closed
func (cb *CircuitBreaker) Failure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastErr = err

	if cb.state != StateClosed {
		return
	}

	cb.state = StateArmed
	cb.armedAt = time.Now()
	cb.generation++
	generation := cb.generation
	cb.timer = time.AfterFunc(cb.timeToWait, func() { cb.fire(generation) })

	cb.logger.Warn("circuit breaker armed",
		"circuitBreaker", cb.name,
		"timeToWait", cb.timeToWait,
		"error", err)
	cb.notifyStateChange(StateClosed, StateArmed, "failure recorded")
}

// Success disarms the breaker and resets the failure count
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		return
	}

	from := cb.state
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
	cb.generation++
	cb.state = StateClosed
	cb.failures = 0
	cb.lastErr = nil

	cb.logger.Info("circuit breaker disarmed", "circuitBreaker", cb.name, "state", from.String())
	cb.notifyStateChange(from, StateClosed, "success recorded")
}

// Stop cancels a pending trigger and closes the breaker, so the next Failure arms it again
func (cb *CircuitBreaker) Stop() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
	cb.generation++
	cb.failures = 0
	cb.lastErr = nil

	if cb.state == StateClosed {
		return
	}
	from := cb.state
	cb.state = StateClosed
	cb.notifyStateChange(from, StateClosed, "stopped")
}

func (cb *CircuitBreaker) fire(generation uint64) {
	cb.mu.Lock()
	if cb.state != StateArmed || cb.generation != generation {
		cb.mu.Unlock()
		return
	}

	cb.state = StateTriggered
	cb.timer = nil
	cb.totalTrigger++
	err := &CircuitBreakerError{
		Name:     cb.name,
		Failures: cb.failures,
		Since:    cb.armedAt,
		Err:      cb.lastErr,
	}
	trigger := cb.trigger
	cb.notifyStateChange(StateArmed, StateTriggered,
		fmt.Sprintf("%d failures over %v", cb.failures, cb.timeToWait))
	cb.mu.Unlock()

	cb.logger.Error("circuit breaker triggered",
		"circuitBreaker", cb.name,
		"failures", err.Failures,
		"error", err.Err)

	if trigger != nil {
		trigger(err)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// AddListener adds a state change listener
func (cb *CircuitBreaker) AddListener(listener StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, listener)
}

// RemoveListener removes a state change listener
func (cb *CircuitBreaker) RemoveListener(listener StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for i, l := range cb.listeners {
		if l == listener {
			cb.listeners = append(cb.listeners[:i], cb.listeners[i+1:]...)
			break
		}
	}
}

// notifyStateChange notifies listeners in their own goroutines. Callers hold cb.mu.
func (cb *CircuitBreaker) notifyStateChange(from, to State, reason string) {
	listeners := make([]StateChangeListener, len(cb.listeners))
	copy(listeners, cb.listeners)

	for _, listener := range listeners {
		go listener.OnStateChange(from, to, reason)
	}
}

// GetMetrics returns circuit breaker metrics
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		CurrentFailures: cb.failures,
		TotalTriggers:   cb.totalTrigger,
		ArmedAt:         cb.armedAt,
		Timestamp:       time.Now(),
	}
}

// CircuitBreakerMetrics represents circuit breaker metrics
type CircuitBreakerMetrics struct {
	Name            string
	State           State
	CurrentFailures int64
	TotalTriggers   int64
	ArmedAt         time.Time
	Timestamp       time.Time
}
