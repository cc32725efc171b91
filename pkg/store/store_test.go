package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(context.Background(), filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateOrGetSessionIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s1, err := c.CreateOrGetSession(ctx, "cid-1", "/tmp/proj")
	require.NoError(t, err)

	s2, err := c.CreateOrGetSession(ctx, "cid-1", "/tmp/proj")
	require.NoError(t, err)

	require.Equal(t, s1.SessionID, s2.SessionID)
}

func TestSaveUserPromptMonotonicNumbering(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateOrGetSession(ctx, "cid-2", "/tmp/proj")
	require.NoError(t, err)

	p1, err := c.SaveUserPrompt(ctx, "cid-2", "hello")
	require.NoError(t, err)
	require.Equal(t, 1, p1.PromptNumber)

	p2, err := c.SaveUserPrompt(ctx, "cid-2", "again")
	require.NoError(t, err)
	require.Equal(t, 2, p2.PromptNumber)
}

func TestEnqueueClaimMarkProcessedRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateOrGetSession(ctx, "cid-3", "/tmp/proj")
	require.NoError(t, err)

	msgID, err := c.Enqueue(ctx, s.SessionID, "cid-3", "/tmp/proj", map[string]string{"kind": "observation"})
	require.NoError(t, err)
	require.NotZero(t, msgID)

	claimed, err := c.Claim(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, StatusProcessing, claimed.Status)

	none, err := c.Claim(ctx, s.SessionID)
	require.NoError(t, err)
	require.Nil(t, none)

	require.NoError(t, c.MarkProcessed(ctx, claimed.ID))

	pending, err := c.PendingCount(ctx, s.SessionID)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestResetStuckIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateOrGetSession(ctx, "cid-4", "/tmp/proj")
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, s.SessionID, "cid-4", "/tmp/proj", map[string]string{"kind": "observation"})
	require.NoError(t, err)

	claimed, err := c.Claim(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n1, err := c.ResetStuck(ctx, -time.Hour) // threshold in the past: every processing row is "stuck"
	require.NoError(t, err)
	require.Equal(t, int64(1), n1)

	n2, err := c.ResetStuck(ctx, -time.Hour)
	require.NoError(t, err)
	require.Zero(t, n2)
}

func TestStoreObservationsAtomicMarksMessageProcessed(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateOrGetSession(ctx, "cid-5", "/tmp/proj")
	require.NoError(t, err)
	require.NoError(t, c.UpdateMemorySessionID(ctx, s.SessionID, "mem-5"))

	msgID, err := c.Enqueue(ctx, s.SessionID, "cid-5", "/tmp/proj", map[string]string{"kind": "observation"})
	require.NoError(t, err)
	claimed, err := c.Claim(ctx, s.SessionID)
	require.NoError(t, err)
	require.Equal(t, msgID, claimed.ID)

	result, err := c.StoreObservationsAtomic(ctx, "mem-5", "/tmp/proj",
		[]ObservationInput{{Type: "tool_use", Title: "Wrote a.md", Narrative: "Wrote a.md"}},
		nil, &claimed.ID, 1, 42, nil)
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 1)

	pending, err := c.PendingCount(ctx, s.SessionID)
	require.NoError(t, err)
	require.Zero(t, pending)
}
