package griddata

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If the task finally fails (retries exhausted, or a non-retryable error), gaveUpTask is invoked
// (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if !ShouldRetry(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether the error is retryable: non-nil and not a
// context cancellation/deadline or one of the permanent, caller-facing
// griddata error kinds.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errSequenceOverflow) {
		return false
	}
	var ge *Error
	if errors.As(err, &ge) {
		switch ge.Code {
		case ModeMismatch, TypeMismatch, QueueConflict, BusyLatch, Removed, QueueRemoved, NotInitialized, Interrupted, Absent:
			return false
		}
	}
	return true
}
