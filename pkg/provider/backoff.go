package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retrySchedule is the fixed backoff sequence for retryable transient
// failures: [3s, 5s, 10s, 30s, 60s], capped at 60s, up to
// maxRetryAttempts tries.
var retrySchedule = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const maxRetryAttempts = 10

// scheduleBackOff adapts the fixed retrySchedule into a backoff.BackOff,
// holding at the final (60s) step for any attempt beyond the named
// schedule, up to maxRetryAttempts total.
type scheduleBackOff struct {
	attempt int
}

func newScheduleBackOff() backoff.BackOff { return &scheduleBackOff{} }

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.attempt >= maxRetryAttempts-1 {
		return backoff.Stop
	}
	idx := s.attempt
	if idx >= len(retrySchedule) {
		idx = len(retrySchedule) - 1
	}
	s.attempt++
	return retrySchedule[idx]
}

func (s *scheduleBackOff) Reset() { s.attempt = 0 }

// RetryTransient runs op, retrying on *Error values classified
// KindRetryableTransient using the schedule above. Any other error (or a
// successful call) stops the retry loop immediately. Cancellation via ctx
// aborts the wait and returns ctx.Err(), which the processor treats as a
// clean stop rather than a failure requiring fallback.
func RetryTransient(ctx context.Context, op func(context.Context) error) error {
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, Retryable) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(newScheduleBackOff(), ctx))
}
