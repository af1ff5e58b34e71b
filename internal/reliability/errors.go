package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Circuit breaker errors
	ErrCircuitTriggered = errors.New("circuit breaker: failures persisted beyond the wait time")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	ErrNonRetryable       = errors.New("retry: error is not retryable")
)

// CircuitBreakerError is passed to the trigger when the breaker trips
type CircuitBreakerError struct {
	Name     string
	Failures int64
	Since    time.Time
	Err      error
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %q triggered after %d failures since %s: %v",
		e.Name, e.Failures, e.Since.Format(time.RFC3339), e.Err)
}

// Is reports ErrCircuitTriggered so callers can match the trip itself
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitTriggered
}

func (e *CircuitBreakerError) Unwrap() error {
	return e.Err
}

// RetryError represents a retry operation error
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.LastError}
}
