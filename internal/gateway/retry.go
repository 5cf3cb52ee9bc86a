package gateway

import (
	"context"
	"errors"
	"net"
	"time"
)

// retryConfig is a small bounded loop with a fixed delay. Retry policy
// stays local to this package so it is auditable in one place.
type retryConfig struct {
	attempts int
	delay    time.Duration
}

// retryTransient runs fn up to cfg.attempts times, waiting cfg.delay
// between tries. Only transient transport failures are retried;
// deterministic rejections and timeouts (the request may have been
// delivered) return immediately.
func retryTransient(ctx context.Context, cfg retryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.delay):
			}
		}
	}
	return lastErr
}

// isTransient reports whether the request provably never completed:
// dial refusals, resets, DNS hiccups. Deadline errors are not transient
// here because the message may have gone out before the timeout.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
