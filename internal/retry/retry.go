// Package retry wraps remote-call boundaries in a bounded, constant-delay
// retry policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy defines how often and how fast a call site is retried
type Policy struct {
	// Attempts is the number of extra attempts after the first failure
	Attempts uint64
	// Delay is the constant pause between attempts
	Delay time.Duration
	// OnRetry is invoked before every retry, e.g. to count retries
	OnRetry func(operation string, err error)
}

// Permanent marks err as not retryable. Do returns err unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do executes fn until it succeeds, the policy is exhausted, fn returns a
// Permanent error, or ctx is cancelled.
func Do(ctx context.Context, p Policy, logger *zap.Logger, operation string, fn func() error) error {
	_, err := DoWithData(ctx, p, logger, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithData is Do for operations returning a value
func DoWithData[T any](ctx context.Context, p Policy, logger *zap.Logger, operation string, fn func() (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), p.Attempts), ctx)

	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return fn()
	}, b, func(err error, next time.Duration) {
		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Uint64("max_retries", p.Attempts),
			zap.Duration("retry_in", next),
			zap.Error(err))
		if p.OnRetry != nil {
			p.OnRetry(operation, err)
		}
	})
	if err == nil {
		if attempt > 1 {
			logger.Info("Operation succeeded after retries",
				zap.String("operation", operation),
				zap.Int("attempts", attempt))
		}
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s cancelled: %w", operation, ctxErr)
	}
	if attempt > int(p.Attempts) {
		return result, fmt.Errorf("%s failed after %d attempts: %w", operation, attempt, err)
	}
	return result, err
}
