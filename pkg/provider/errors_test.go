package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := Wrap("anthropic.query", KindRetryableTransient, errors.New("boom"))
	require.True(t, errors.Is(err, Retryable))
	require.False(t, errors.Is(err, Fatal))
}

func TestErrorUnwrapExposesUnderlying(t *testing.T) {
	underlying := errors.New("rate limited")
	err := Wrap("gemini.query", KindRetryableTransient, underlying)
	require.ErrorIs(t, err, underlying)
}

func TestErrorKindString(t *testing.T) {
	require.Equal(t, "context_overflow", KindContextOverflow.String())
	require.Equal(t, "terminal_resume", KindTerminalResume.String())
}
