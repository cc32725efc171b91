package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sessionmemory/worker/pkg/events"
	"github.com/sessionmemory/worker/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeBuses struct{ bus *events.Bus }

func (f *fakeBuses) BusFor(int64) *events.Bus { return f.bus }

func TestClaimReturnsSentinelWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	session, err := s.CreateOrGetSession(ctx, "cid-1", "/tmp/proj")
	require.NoError(t, err)

	buses := &fakeBuses{bus: events.New()}
	q := New(s, buses)

	_, err = q.Claim(ctx, session.SessionID)
	require.True(t, errors.Is(err, ErrNoSessionsAvailable))
}

func TestEnqueueWakesBus(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	session, err := s.CreateOrGetSession(ctx, "cid-2", "/tmp/proj")
	require.NoError(t, err)

	bus := events.New()
	var woke bool
	bus.Subscribe(func(e events.Event) {
		if e.Kind == events.KindMessage {
			woke = true
		}
	})
	q := New(s, &fakeBuses{bus: bus})

	_, err = q.Enqueue(ctx, session.SessionID, "cid-2", "/tmp/proj", map[string]string{"kind": "observation"})
	require.NoError(t, err)
	require.True(t, woke)
}
