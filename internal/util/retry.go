// Package util provides shared utility functions for chunkvfs.
package util

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"chunkvfs/internal/common"
)

// LockRetryOptions returns retry options for acquiring the storage lock.
// Uses backoff (100ms, 200ms, 400ms, ...) while another process holds it.
func LockRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(5),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(1 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsLockBusy),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// IORetryOptions retries transient I/O failures a few times with a short
// backoff. Format and validation errors fail immediately.
func IORetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(50 * time.Millisecond),
		retry.MaxDelay(500 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransientIO),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = IORetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult executes fn with retry logic and returns the result.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = IORetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// Common retry predicates

// IsLockBusy returns true if the error reports a lock held elsewhere.
func IsLockBusy(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsTransientIO reports whether err is an I/O failure worth another attempt.
func IsTransientIO(err error) bool {
	return errors.Is(err, common.ErrIO) && !errors.Is(err, common.ErrFormat)
}
