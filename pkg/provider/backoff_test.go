package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestRetryTransientStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), func(ctx context.Context) error {
		calls++
		return Wrap("test.op", KindFatal, errors.New("nope"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryTransientStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryTransient(ctx, func(ctx context.Context) error {
		return Wrap("test.op", KindRetryableTransient, errors.New("down"))
	})
	require.Error(t, err)
}

func TestScheduleBackOffFollowsNamedScheduleThenHoldsAtCap(t *testing.T) {
	b := &scheduleBackOff{}
	for i := 0; i < len(retrySchedule); i++ {
		require.Equal(t, retrySchedule[i], b.NextBackOff())
	}
	// Beyond the named schedule, holds at the final (60s) step.
	require.Equal(t, retrySchedule[len(retrySchedule)-1], b.NextBackOff())
}

func TestScheduleBackOffStopsAtMaxAttempts(t *testing.T) {
	b := &scheduleBackOff{attempt: maxRetryAttempts}
	require.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestScheduleBackOffResetReturnsToStart(t *testing.T) {
	b := &scheduleBackOff{attempt: 3}
	b.Reset()
	require.Equal(t, retrySchedule[0], b.NextBackOff())
}
