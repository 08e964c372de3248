// Package backoff defines the retry policy applied to unreliable network
// calls across the dashboard.
package backoff

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy holds the parameters for a capped exponential backoff. The zero
// value is not usable; construct with explicit values or use [Default].
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts uint64
}

// Default is the policy used for token refresh and other short
// provider calls.
func Default() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		MaxAttempts: 3,
	}
}

// Backoff compiles the policy into a go-retry backoff.
func (p Policy) Backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}

	// MaxAttempts counts total tries, go-retry counts retries after the first.
	return retry.WithMaxRetries(p.MaxAttempts-1, b)
}

// Do runs fn under the policy. fn signals a retryable failure by returning
// an error wrapped with [retry.RetryableError]; anything else stops the loop.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.Backoff(), fn)
}

// Delays returns the sequence of sleep durations the policy would produce,
// without jitter. Used to keep the policy testable.
func (p Policy) Delays() []time.Duration {
	b := p.Backoff()

	var out []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}
