// Package resilience provides retry and error-classification primitives used
// by every component that talks to SOURCE, REPLICA or ANALYTICS.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/metrics"
)

// RetryPolicy defines configuration for retry behavior with exponential backoff.
//
// Example usage:
//
//	policy := &RetryPolicy{
//	    MaxRetries: 3,
//	    BaseDelay:  100 * time.Millisecond,
//	    MaxDelay:   5 * time.Second,
//	    Multiplier: 2.0,
//	    Jitter:     true,
//	}
//	err := WithRetry(ctx, policy, func() error {
//	    return someOperation()
//	})
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int

	// BaseDelay is the initial delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases on each retry.
	Multiplier float64

	// Jitter adds up to 10% randomness to each delay to avoid thundering herd.
	Jitter bool

	// ErrorChecker determines which errors should trigger a retry. If nil,
	// all non-nil errors are retried.
	ErrorChecker RetryableErrorChecker

	// Logger for retry events. If nil, uses slog.Default().
	Logger *slog.Logger

	// Metrics records attempt/backoff/outcome counters, if set.
	Metrics *metrics.RetryMetrics

	// OperationName labels metrics and log lines (e.g. "extractor.copy",
	// "loader.upsert"). Defaults to "unknown" when Metrics is set but this
	// is empty.
	OperationName string
}

// RetryableErrorChecker determines if an error should trigger a retry attempt.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultRetryPolicy returns the policy used when a component doesn't
// configure one explicitly: 3 retries, 100ms base delay, 5s cap, 2x backoff,
// jitter on.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry executes operation according to policy, retrying transient
// failures with exponential backoff. Context cancellation during a retry
// delay returns ctx.Err() immediately.
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opName := policy.OperationName
	if opName == "" && policy.Metrics != nil {
		opName = "unknown"
	}
	startTime := time.Now()

	var lastErr error
	delay := policy.BaseDelay
	attemptCount := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attemptCount++
		attemptStart := time.Now()

		err := operation()
		attemptDuration := time.Since(attemptStart).Seconds()

		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry",
					"operation", opName,
					"attempt", attempt+1,
				)
			}
			if policy.Metrics != nil {
				errorType := "none"
				if lastErr != nil {
					errorType = classifyError(lastErr)
				}
				policy.Metrics.RecordAttempt(opName, "success", errorType, attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "success", attemptCount)
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop",
				"operation", opName,
				"error", err,
				"attempt", attempt+1,
			)
			if policy.Metrics != nil {
				errorType := classifyError(err)
				policy.Metrics.RecordAttempt(opName, "failure", errorType, attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "failure", attemptCount)
			}
			return lastErr
		}

		if policy.Metrics != nil {
			errorType := classifyError(err)
			policy.Metrics.RecordAttempt(opName, "failure", errorType, attemptDuration)
		}

		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries",
				"operation", opName,
				"max_retries", policy.MaxRetries,
				"total_attempts", attempt+1,
				"error", lastErr,
			)
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attemptCount)
			}
			break
		}

		logger.Warn("operation failed, retrying",
			"operation", opName,
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}

		if !waitWithContext(ctx, delay) {
			logger.Debug("context cancelled during retry delay",
				"operation", opName,
				"attempt", attempt+1,
			)
			if policy.Metrics != nil {
				errorType := classifyError(ctx.Err())
				policy.Metrics.RecordAttempt(opName, "cancelled", errorType, time.Since(startTime).Seconds())
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attemptCount)
			}
			return ctx.Err()
		}

		delay = calculateNextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

// WithRetryFunc is like WithRetry for operations that also return a result.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", attempt+1,
				)
			}
			return result, nil
		}

		lastResult = result
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop",
				"error", err,
				"attempt", attempt+1,
			)
			return lastResult, lastErr
		}

		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries",
				"max_retries", policy.MaxRetries,
				"total_attempts", attempt+1,
				"error", lastErr,
			)
			break
		}

		logger.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if !waitWithContext(ctx, delay) {
			logger.Debug("context cancelled during retry delay", "attempt", attempt+1)
			var zero T
			return zero, ctx.Err()
		}

		delay = calculateNextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(currentDelay time.Duration, policy *RetryPolicy) time.Duration {
	nextDelay := time.Duration(float64(currentDelay) * policy.Multiplier)

	if nextDelay > policy.MaxDelay {
		nextDelay = policy.MaxDelay
	}

	if policy.Jitter {
		jitterFactor := 0.1
		jitterAmount := time.Duration(float64(nextDelay) * jitterFactor * rand.Float64())
		nextDelay += jitterAmount
	}

	return nextDelay
}
