package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(max int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithBackoff_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return NewTransientError("x", errors.New("throttled"))
		}
		return nil
	}, IsRetryable)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
		calls++
		return NewPermanentError("x", errors.New("access denied"))
	}, IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(2), func() error {
		calls++
		return NewTransientError("x", errors.New("throttled"))
	}, IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries")
}

func TestRetryWithBackoff_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, fastRetry(5), func() error {
		calls++
		cancel()
		return NewTransientError("x", errors.New("throttled"))
	}, IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollUntil_Succeeds(t *testing.T) {
	polls := 0
	err := PollUntil(context.Background(), &PollPolicy{
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Deadline:  time.Second,
	}, func(ctx context.Context) (bool, error) {
		polls++
		return polls >= 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, polls)
}

func TestPollUntil_DeadlineExpires(t *testing.T) {
	err := PollUntil(context.Background(), &PollPolicy{
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Deadline:  20 * time.Millisecond,
	}, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestPollUntil_ProbeErrorStops(t *testing.T) {
	boom := errors.New("boom")
	err := PollUntil(context.Background(), nil, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestErrorTaxonomy(t *testing.T) {
	transient := NewTransientError("network.a", errors.New("throttled"))
	permanent := NewPermanentError("network.a", errors.New("denied"))
	depErr := NewDependencyNotReadyError("compute-service.c", "log-group.b")

	assert.True(t, IsRetryable(transient))
	assert.False(t, IsRetryable(permanent))
	assert.False(t, IsRetryable(depErr))

	assert.Equal(t, KindTransient, KindOf(transient))
	assert.Equal(t, KindPermanent, KindOf(permanent))
	assert.Equal(t, KindPermanent, KindOf(errors.New("plain")), "unclassified errors are permanent")

	assert.Contains(t, depErr.Error(), "log-group.b")

	var e *Error
	require.ErrorAs(t, transient, &e)
	assert.Equal(t, "network.a", e.Resource)
}
