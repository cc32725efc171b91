package writer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/parser"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	c, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type fakeVectorSyncer struct {
	observations int
	summaries    int
}

func (f *fakeVectorSyncer) SyncObservation(ctx context.Context, memorySessionID, project string, observationID int64, obs parser.Observation, createdAtEpoch int64) error {
	f.observations++
	return nil
}

func (f *fakeVectorSyncer) SyncSummary(ctx context.Context, memorySessionID, project string, summaryID int64, sum parser.Summary, createdAtEpoch int64) error {
	f.summaries++
	return nil
}

func TestCommitStoresObservationsAndAcksMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	sess, err := s.CreateOrGetSession(ctx, "content-1", "proj")
	require.NoError(t, err)
	require.NoError(t, s.UpdateMemorySessionID(ctx, sess.SessionID, "mem-1"))

	messageID, err := s.Enqueue(ctx, sess.SessionID, "content-1", "/tmp", map[string]string{"kind": "observe"})
	require.NoError(t, err)
	claimed, err := s.Claim(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, messageID, claimed.ID)

	_, err = sessions.Register(ctx, sess.SessionID, nil, "")
	require.NoError(t, err)
	sessions.IncrementInFlight(sess.SessionID)

	vectors := &fakeVectorSyncer{}
	w := New(s, sessions, vectors)

	result, err := w.Commit(ctx, Input{
		SessionID:       sess.SessionID,
		MemorySessionID: "mem-1",
		Project:         "proj",
		Parsed: parser.Result{
			Observations: []parser.Observation{{Type: "discovery", Title: "found it"}},
		},
		MessageID:    &messageID,
		PromptNumber: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 1)

	snap, ok := sessions.Snapshot(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, 0, snap.InFlightCount)
}

func TestCommitWithNoRecordsStillAcksMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessions := session.New(s, 0, nil)

	sess, err := s.CreateOrGetSession(ctx, "content-2", "proj")
	require.NoError(t, err)
	require.NoError(t, s.UpdateMemorySessionID(ctx, sess.SessionID, "mem-2"))

	messageID, err := s.Enqueue(ctx, sess.SessionID, "content-2", "/tmp", map[string]string{"kind": "observe"})
	require.NoError(t, err)
	_, err = s.Claim(ctx, sess.SessionID)
	require.NoError(t, err)

	sessions.IncrementInFlight(sess.SessionID)
	w := New(s, sessions, nil)

	_, err = w.Commit(ctx, Input{
		SessionID:       sess.SessionID,
		MemorySessionID: "mem-2",
		Project:         "proj",
		MessageID:       &messageID,
	})
	require.NoError(t, err)
}
