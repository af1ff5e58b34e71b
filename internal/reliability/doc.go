// Package reliability provides the failure handling used around message consumption.
//
// This package implements:
//   - CircuitBreaker: trips when failures keep happening for longer than a wait time
//   - Retry policies: exponential backoff with jitter, optionally unlimited
//
// Example usage:
//
//	cb := NewCircuitBreaker(func(err error) {
//	    onCriticalError("receiving keeps failing", err)
//	}, WithName("sales"), WithTimeToWait(2*time.Minute))
//
//	err := Retry(ctx, NewExponentialBackoff(time.Second, 30*time.Second, 2, -1), func() error {
//	    if err := subscribe(); err != nil {
//	        cb.Failure(err)
//	        return err
//	    }
//	    cb.Success()
//	    return nil
//	})
package reliability
