package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDisabledWhenRPMZero(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterSpacesRequests(t *testing.T) {
	l := NewLimiter(6000) // one per 10ms
	require.NoError(t, l.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestLimiterRespectsContextCancel(t *testing.T) {
	l := NewLimiter(1) // one per minute
	require.NoError(t, l.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestLimitersBuildsOnePerModel(t *testing.T) {
	ls := Limiters(ModelLimits{"model-a": 10, "model-b": 0})
	require.Len(t, ls, 2)
	require.NotNil(t, ls["model-a"])
	require.NotNil(t, ls["model-b"])
}
