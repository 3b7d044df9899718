package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetry_Success(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	called := 0
	err := WithRetry(context.Background(), policy, func() error {
		called++
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, called)
}

func TestWithRetry_SuccessAfterRetries(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
		Logger:     slog.Default(),
	}

	called := 0
	failUntil := 2

	err := WithRetry(context.Background(), policy, func() error {
		called++
		if called < failUntil {
			return errors.New("transient error")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, failUntil, called)
}

func TestWithRetry_AllRetriesFailed(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	called := 0
	expectedError := errors.New("permanent error")

	err := WithRetry(context.Background(), policy, func() error {
		called++
		return expectedError
	})

	require.Error(t, err)
	require.Equal(t, policy.MaxRetries+1, called)
	require.ErrorIs(t, err, expectedError)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:   5,
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		ErrorChecker: &NeverRetryChecker{},
	}

	called := 0
	err := WithRetry(context.Background(), policy, func() error {
		called++
		return errors.New("fatal")
	})

	require.Error(t, err)
	require.Equal(t, 1, called)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	called := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, policy, func() error {
		called++
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, called, 1)
}

func TestWithRetryFunc_ReturnsResult(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Multiplier: 2.0,
	}

	called := 0
	result, err := WithRetryFunc(context.Background(), policy, func() (int, error) {
		called++
		if called < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	require.Equal(t, 3, policy.MaxRetries)
	require.True(t, policy.Jitter)
}

func TestCalculateNextDelay_CapsAtMaxDelay(t *testing.T) {
	policy := &RetryPolicy{
		MaxDelay:   50 * time.Millisecond,
		Multiplier: 10.0,
	}

	next := calculateNextDelay(20*time.Millisecond, policy)
	require.LessOrEqual(t, next, 55*time.Millisecond) // MaxDelay + up to 10% jitter headroom
}
