package chain

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// retryPolicy bounds withRetry. Op names the operation in log lines.
type retryPolicy struct {
	Op      string
	Retries int
	Backoff time.Duration
	Logger  *zap.Logger
}

// retryable reports whether another attempt can succeed after err.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errInvalidEndpoint):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// withRetry runs fn until it succeeds, returns a non-retryable error, the
// retry budget runs out, or ctx ends. The delay doubles after each attempt.
func withRetry(ctx context.Context, p retryPolicy, fn func(context.Context) error) error {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	delay := p.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !retryable(err) {
			logger.Warn("giving up", zap.String("op", p.Op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if attempt > retries {
			logger.Warn("retries exhausted", zap.String("op", p.Op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		logger.Warn("retrying",
			zap.String("op", p.Op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
