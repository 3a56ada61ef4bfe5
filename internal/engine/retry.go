package engine

import (
	"context"
	"time"

	"github.com/restprobe/restprobe/pkg/contract"
)

// Do executes op, retrying only rate-limited failures. Any error that is
// not a contract.RateLimitError propagates immediately after a single
// attempt. A successful op returns at once with no retry cost.
//
// The delay before each retry is the server's Retry-After hint when the
// 429 response carries one, otherwise baseDelay doubled per attempt;
// either way the delay is clamped to maxDelay. After maxRetries total
// attempts the last rate-limit failure is wrapped in a RETRY_EXHAUSTED
// error and returned, never swallowed.
//
// Concurrent Do invocations share no state. Cancelling ctx during a
// backoff wait ends the invocation with the context error.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), cfg contract.RetryConfig) (T, error) {
	var zero T
	cfg = cfg.Normalized()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		rle, rateLimited := contract.AsRateLimit(err)
		if !rateLimited {
			return zero, err
		}
		lastErr = err

		if attempt == cfg.MaxRetries-1 {
			break
		}

		hint, hasHint := rle.Response.RetryAfter()
		delay := ComputeDelay(cfg, attempt, hint, hasHint)
		if err := WaitForBackoff(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, contract.NewErrorf(contract.ErrCodeRetryExhausted,
		"rate limit retries exhausted after %d attempts", cfg.MaxRetries).
		WithCause(lastErr).
		WithDetails(map[string]any{"max_retries": cfg.MaxRetries})
}

// ComputeDelay calculates the backoff before the retry following the
// given zero-based attempt. A server hint always wins over exponential
// growth; both are clamped to the configured maximum.
func ComputeDelay(cfg contract.RetryConfig, attempt int, hint time.Duration, hasHint bool) time.Duration {
	var delay time.Duration
	if hasHint {
		delay = hint
	} else {
		delay = cfg.BaseDelay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if delay >= cfg.MaxDelay {
				break
			}
		}
	}

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the computed delay or returns early if the
// context is cancelled. Returns an error only on cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
