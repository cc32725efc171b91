package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/store"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	c, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegisterCreatesStateFromStoreRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.CreateOrGetSession(ctx, "content-1", "proj")
	require.NoError(t, err)

	m := New(s, 0, nil)
	_, cancel := context.WithCancel(ctx)
	st, err := m.Register(ctx, sess.SessionID, cancel, config.ProviderAnthropic)
	require.NoError(t, err)
	require.Equal(t, "content-1", st.ContentSessionID)
	require.Equal(t, "proj", st.Project)

	snap, ok := m.Snapshot(sess.SessionID)
	require.True(t, ok)
	require.Equal(t, config.ProviderAnthropic, snap.CurrentProvider)
}

func TestEnsureStartedOnlyFiresOnceForConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var mu sync.Mutex
	starts := 0
	m := New(s, 0, func(ctx context.Context, sessionID int64, reason string) {
		mu.Lock()
		starts++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EnsureStarted(ctx, 42, "observation_enqueued")
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, starts)
}

func TestSafeToRestartRequiresIdleAndNoInFlight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.CreateOrGetSession(ctx, "content-2", "proj")
	require.NoError(t, err)

	m := New(s, 0, nil)
	_, err = m.Register(ctx, sess.SessionID, func() {}, config.ProviderAnthropic)
	require.NoError(t, err)

	require.False(t, m.SafeToRestart(sess.SessionID))

	m.IncrementInFlight(sess.SessionID)
	m.SetIdle(sess.SessionID)
	require.False(t, m.SafeToRestart(sess.SessionID))

	m.DecrementInFlight(sess.SessionID)
	require.True(t, m.SafeToRestart(sess.SessionID))
}

func TestScheduleRestartsForSettingsChangeFiresImmediatelyWhenIdle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.CreateOrGetSession(ctx, "content-3", "proj")
	require.NoError(t, err)

	restarted := make(chan string, 1)
	m := New(s, 0, func(ctx context.Context, sessionID int64, reason string) {
		restarted <- reason
	})
	_, err = m.Register(ctx, sess.SessionID, func() {}, config.ProviderAnthropic)
	require.NoError(t, err)
	m.SetIdle(sess.SessionID)

	m.ScheduleRestartsForSettingsChange("provider_changed")

	select {
	case reason := <-restarted:
		require.Equal(t, "provider_changed", reason)
	case <-time.After(time.Second):
		t.Fatal("expected restart to fire for an idle session")
	}
}

func TestDeleteSessionRemovesFromRegistry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.CreateOrGetSession(ctx, "content-4", "proj")
	require.NoError(t, err)

	m := New(s, 0, nil)
	_, err = m.Register(ctx, sess.SessionID, func() {}, config.ProviderAnthropic)
	require.NoError(t, err)

	m.DeleteSession(ctx, sess.SessionID, nil)

	_, ok := m.Snapshot(sess.SessionID)
	require.False(t, ok)
}
