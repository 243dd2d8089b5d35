package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "flaky", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "broken", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "permanent", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, errBoom) },
	}, func() error {
		calls++
		return errBoom
	})
	assert.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "cancelled", RetryConfig{MaxAttempts: 3, InitialDelay: time.Second}, func() error {
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 20 * time.Millisecond})

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return context.Canceled }), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, cb.GetState())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerReopensOnFailedTrial(t *testing.T) {
	cb := NewCircuitBreaker("source", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	assert.Error(t, cb.Execute(func() error { return errBoom }))
	time.Sleep(15 * time.Millisecond)

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))

	err = WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil })
	assert.NoError(t, err)

	err = WithTimeout(context.Background(), time.Second, "failing", func(context.Context) error { return errBoom })
	assert.Same(t, errBoom, err)
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "list records", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrTimeout)
}
