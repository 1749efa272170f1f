package anvil

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures the exponential-backoff retry wrapped around one
// full agent turn. Only parse-class errors retry; everything else propagates
// on the first failure.
type RetryPolicy struct {
	InitialBackoff time.Duration
	Factor         float64
	MaxAttempts    int
}

// DefaultRetryPolicy matches the runtime defaults: 200ms initial backoff,
// doubling, three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 200 * time.Millisecond,
		Factor:         2,
		MaxAttempts:    3,
	}
}

// retryTurn calls fn up to MaxAttempts times, sleeping between attempts when
// shouldRetry reports the error as retryable. The retriable unit is the whole
// turn — individual stream reads and tool calls are never retried on their
// own.
func retryTurn(ctx context.Context, policy RetryPolicy, shouldRetry func(error) bool, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil || !shouldRetry(err) {
			return err
		}
		last = err
		if i < attempts-1 {
			timer := time.NewTimer(policy.backoff(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return last
}

// backoff returns the delay before retry i (0-indexed):
// initial * factor^i, plus up to 50% random jitter.
func (p RetryPolicy) backoff(i int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	base := p.InitialBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	exp := time.Duration(float64(base) * math.Pow(factor, float64(i)))
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
