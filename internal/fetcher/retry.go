package fetcher

import (
	"context"
	"errors"
	"time"
)

// retryWithResult calls fn up to attempts times with a fixed delay between
// calls. Errors wrapping ErrNotRetryable stop immediately.
func retryWithResult[T any](ctx context.Context, attempts int, delay time.Duration, sleep func(context.Context, time.Duration) error, fn func(attempt int) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotRetryable) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt < attempts && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
