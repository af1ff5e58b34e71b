package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)

		assert.Equal(t, 100*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 5*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 3, eb.MaxRetries())
		assert.True(t, eb.Jitter)
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Zero(t, delay)
	})

	t.Run("negative max retries never gives up", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, -1)

		shouldRetry, _ := eb.ShouldRetry(10_000, errors.New("test"))
		assert.True(t, shouldRetry)
	})

	t.Run("ShouldRetry stops on permanent errors", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, -1)

		shouldRetry, _ := eb.ShouldRetry(0, Permanent(errors.New("bad credentials")))
		assert.False(t, shouldRetry)
	})

	t.Run("NextDelay calculates exponential backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		eb.Jitter = false

		assert.Equal(t, 100*time.Millisecond, eb.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, eb.NextDelay(1))
		assert.Equal(t, 400*time.Millisecond, eb.NextDelay(2))
		assert.Equal(t, 1600*time.Millisecond, eb.NextDelay(4))
		assert.Equal(t, 10*time.Second, eb.NextDelay(10))
		assert.Equal(t, 10*time.Second, eb.NextDelay(5000))
	})

	t.Run("NextDelay with jitter stays within fifteen percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 50; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})
}

func TestRetry(t *testing.T) {
	fast := func(maxRetries int) *ExponentialBackoff {
		eb := NewExponentialBackoff(time.Millisecond, 5*time.Millisecond, 2.0, maxRetries)
		eb.Jitter = false
		return eb
	}

	t.Run("returns nil once fn succeeds", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), fast(5), func() error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("not yet")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("wraps the last error when attempts run out", func(t *testing.T) {
		lastErr := errors.New("still failing")
		err := Retry(context.Background(), fast(2), func() error {
			return lastErr
		})

		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, lastErr)
		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)
	})

	t.Run("returns permanent errors immediately", func(t *testing.T) {
		var calls int32
		cause := errors.New("access refused")
		err := Retry(context.Background(), fast(5), func() error {
			atomic.AddInt32(&calls, 1)
			return Permanent(cause)
		})

		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("calls the retry hook before each wait", func(t *testing.T) {
		var attempts []int
		_ = Retry(context.Background(), fast(2), func() error {
			return errors.New("fail")
		}, func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		})

		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := Retry(ctx, NewExponentialBackoff(5*time.Millisecond, 5*time.Millisecond, 1, -1), func() error {
			return errors.New("fail")
		})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
