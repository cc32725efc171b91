package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateNoopWhenUnderThreshold(t *testing.T) {
	history := []Message{{Role: "user", Content: "short"}}
	out, truncated := Truncate(history, "also short", 1000)
	require.False(t, truncated)
	require.Equal(t, history, out)
}

func TestTruncateKeepsPinnedAndRecent(t *testing.T) {
	pinned := Message{Role: "system", Content: "pinned instructions", Pinned: true}
	history := []Message{pinned}
	for i := 0; i < 50; i++ {
		history = append(history, Message{Role: "user", Content: strings.Repeat("x", 400)})
	}

	out, truncated := Truncate(history, "new message", 2000)
	require.True(t, truncated)
	require.NotEmpty(t, out)
	require.True(t, out[0].Pinned)

	for _, m := range history {
		if m.Pinned {
			found := false
			for _, o := range out {
				if o.Pinned {
					found = true
				}
			}
			require.True(t, found)
		}
	}
}

func TestTruncateAggressiveWhenPinnedAloneOverflows(t *testing.T) {
	pinned := Message{Role: "system", Content: strings.Repeat("p", 40000), Pinned: true}
	history := []Message{pinned, {Role: "user", Content: "middle turn"}}

	out, truncated := Truncate(history, "final message", 1000)
	require.True(t, truncated)
	require.Len(t, out, 1)
	require.True(t, out[0].Pinned)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 1, EstimateTokens("abcd"))
	require.Equal(t, 2, EstimateTokens("abcde"))
	require.Equal(t, 0, EstimateTokens(""))
}
