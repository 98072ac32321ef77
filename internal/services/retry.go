package services

import (
	"context"
	"errors"
	"time"

	"dealbook/internal/core"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

const maxRetryBackoff = 30 * time.Second

// backoff returns base, 2*base, 4*base, ... capped at 30s.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		return maxRetryBackoff
	}
	d := base << attempt
	if d <= 0 || d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

// retryable reports whether a failed read may succeed on another attempt.
// Validation, ownership and session errors never do.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrMalformedRecord),
		errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrAuthenticating),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCommission),
		errors.Is(err, core.ErrInvalidMonth):
		return false
	}
	return true
}

// withRetry runs fn up to retries+1 times, each under its own timeout.
func withRetry[T any](ctx context.Context, retries int, base, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err = fn(callCtx)
		cancel()
		if err == nil || attempt >= retries || !retryable(err) || ctx.Err() != nil {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(backoff(base, attempt)):
		}
	}
}
