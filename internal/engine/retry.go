package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultResourceTimeout is the orchestrator-side deadline per resource
// operation, independent of any provider-side timeout.
const DefaultResourceTimeout = 10 * time.Minute

// DefaultRetryMax is the maximum number of retries for transient errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used for provider calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter. It
// retries only while shouldRetry returns true for the error.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoffDelay returns exponential backoff with jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := rand.Float64() * backoff
	return time.Duration(jitter)
}

// PollPolicy bounds a readiness poll: exponential delays between probes and
// an overall deadline.
type PollPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Deadline  time.Duration
}

// DefaultPollPolicy is the readiness poll used before declaring a resource
// failed: base 2s, cap 30s, deadline 10 minutes.
func DefaultPollPolicy() *PollPolicy {
	return &PollPolicy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
		Deadline:  DefaultResourceTimeout,
	}
}

// PollUntil probes fn with bounded exponential backoff until it reports done,
// the context is cancelled, or the deadline expires.
func PollUntil(ctx context.Context, policy *PollPolicy, fn func(ctx context.Context) (done bool, err error)) error {
	if policy == nil {
		policy = DefaultPollPolicy()
	}

	ctx, cancel := context.WithTimeout(ctx, policy.Deadline)
	defer cancel()

	delay := policy.BaseDelay
	for attempt := 0; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("poll deadline exceeded: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
