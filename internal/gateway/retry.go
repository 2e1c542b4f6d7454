package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"clipforge/internal/logging"
)

// RetryPolicy decides which failures get retried and how long to wait
// between attempts. One policy instance is shared by every call site so the
// ad-hoc per-call retry loops of the source design collapse into a single
// abstraction.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Base is the first backoff delay; attempt n waits Base*2^n plus jitter.
	Base time.Duration
	// Max caps a single backoff delay.
	Max time.Duration
	// Retryable reports whether a failure is worth another attempt.
	Retryable func(error) bool

	// jitter and sleep are injectable for deterministic tests.
	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
}

// DefaultRetryPolicy retries rate-limited failures twice with jittered
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Base:       time.Second,
		Max:        30 * time.Second,
		Retryable:  IsRateLimited,
	}
}

// Backoff returns the delay before retry attempt n (0-based), including
// random jitter to avoid synchronized retry storms under shared quota.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<uint(attempt))
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d + p.jitterFor(base)
}

func (p RetryPolicy) jitterFor(base time.Duration) time.Duration {
	if p.jitter != nil {
		return p.jitter(base)
	}
	half := int64(base / 2)
	if half <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(half))
}

func (p RetryPolicy) sleepFor(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op, retrying retryable failures with backoff. Non-retryable
// failures propagate immediately. Exhausting the budget on rate-limited
// failures surfaces ErrQuotaExhausted so the caller can offer recovery.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRateLimited
	}

	var lastErr error
	attempts := p.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := p.Backoff(i - 1)
			logging.GatewayDebug("retry %d/%d after %v: %v", i, p.MaxRetries, delay, lastErr)
			if err := p.sleepFor(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	logging.GatewayError("retries exhausted after %d attempts: %v", attempts, lastErr)
	if IsRateLimited(lastErr) {
		return fmt.Errorf("%w after %d attempts: %v", ErrQuotaExhausted, attempts, lastErr)
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}
