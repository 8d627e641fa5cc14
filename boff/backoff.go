// This file contains helper functions for retrying operations with backoff.
// The idea is to avoid repetition with common retry boilerplate code.
package boff

import (
	"context"
	"time"

	"amm-indexer/config"
	"amm-indexer/logger"

	"github.com/cenkalti/backoff/v5"
)

func RetryWithMaxElapsed[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, backoff.NewExponentialBackOff(), backoff.WithMaxElapsedTime(config.BackoffMaxElapsedTime))
}

// RetryConstant runs operation at most attempts times, sleeping delay between
// attempts. Errors wrapped with backoff.Permanent stop the loop immediately.
func RetryConstant[T any](ctx context.Context, operation func() (T, error), name string, attempts int, delay time.Duration) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	return retry(
		ctx,
		operation,
		name,
		backoff.NewConstantBackOff(delay),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

func retry[T any](ctx context.Context, operation func() (T, error), name string, b backoff.BackOff, opts ...backoff.RetryOption) (T, error) {
	opts = append(
		opts,
		backoff.WithBackOff(b),
		backoff.WithNotify(
			func(err error, d time.Duration) {
				logger.Debug("%s error: %s - retrying after %v", name, err, d)
			},
		),
	)

	return backoff.Retry(ctx, operation, opts...)
}
