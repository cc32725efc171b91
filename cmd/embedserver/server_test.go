package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashEmbeddingFuncIsDeterministic(t *testing.T) {
	a, err := hashEmbeddingFunc(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := hashEmbeddingFunc(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := hashEmbeddingFunc(context.Background(), "something else entirely")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestHashEmbeddingFuncIsNormalized(t *testing.T) {
	vec, err := hashEmbeddingFunc(context.Background(), "normalize me")
	require.NoError(t, err)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 0.01)
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]any{"project": "foo", "sqlite_id": int64(42)}
	back := unstringifyMetadata(stringifyMetadata(meta))
	require.Equal(t, "foo", back["project"])
	require.Equal(t, "42", back["sqlite_id"])
}

func TestServerIDIndexTracksUpsertAndDelete(t *testing.T) {
	s := newServer(nil, nil)
	s.recordIDs("cm__proj", []string{"a", "b"})
	require.ElementsMatch(t, []string{"a", "b"}, s.listIDs("cm__proj"))

	s.forgetIDs("cm__proj", []string{"a"})
	require.Equal(t, []string{"b"}, s.listIDs("cm__proj"))
}
