// Package queue implements the Durable Queue (C1): a thin wrapper around
// the record store's pending_messages operations that also wakes the
// owning session's event bus. This repo has at most one processor per
// session, never a worker fleet racing to claim arbitrary sessions, so the
// registry style here skips the multi-worker-pod claim machinery a
// distributed queue would need.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sessionmemory/worker/pkg/events"
	"github.com/sessionmemory/worker/pkg/store"
)

// ErrNoSessionsAvailable is returned when a claim finds nothing pending
// for this session.
var ErrNoSessionsAvailable = errors.New("queue: no pending messages for session")

// Buses resolves (or lazily creates) the event bus for a session id. The
// Session Manager owns bus lifetime; the queue only needs read access to
// publish wake signals.
type Buses interface {
	BusFor(sessionID int64) *events.Bus
}

// DurableQueue is the per-process facade over the store's queue operations.
type DurableQueue struct {
	store *store.Client
	buses Buses
}

// New constructs a DurableQueue bound to a store and a session-bus
// resolver.
func New(s *store.Client, buses Buses) *DurableQueue {
	return &DurableQueue{store: s, buses: buses}
}

// Enqueue appends a pending item and wakes the session's bus, per spec
// §4.1.
func (q *DurableQueue) Enqueue(ctx context.Context, sessionID int64, contentSessionID, cwd string, payload any) (int64, error) {
	id, err := q.store.Enqueue(ctx, sessionID, contentSessionID, cwd, payload)
	if err != nil {
		return 0, err
	}
	if q.buses != nil {
		q.buses.BusFor(sessionID).Message(sessionID)
	}
	return id, nil
}

// Claim returns the oldest pending item for a session, or
// ErrNoSessionsAvailable if none is pending — the processor's queue
// iterator (pkg/session/iterator.go) treats that as "go idle".
func (q *DurableQueue) Claim(ctx context.Context, sessionID int64) (*store.PendingMessage, error) {
	msg, err := q.store.Claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNoSessionsAvailable
	}
	return msg, nil
}

func (q *DurableQueue) MarkProcessed(ctx context.Context, messageID int64) error {
	return q.store.MarkProcessed(ctx, messageID)
}

func (q *DurableQueue) MarkFailed(ctx context.Context, messageID int64) error {
	return q.store.MarkFailed(ctx, messageID)
}

func (q *DurableQueue) MarkAllSessionFailed(ctx context.Context, sessionID int64) error {
	return q.store.MarkAllSessionFailed(ctx, sessionID)
}

func (q *DurableQueue) MarkAllSessionAbandoned(ctx context.Context, sessionID int64) error {
	return q.store.MarkAllSessionAbandoned(ctx, sessionID)
}

// ResetStuck is the crash-recovery entry point, run once at startup (spec
// §4.1).
func (q *DurableQueue) ResetStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	return q.store.ResetStuck(ctx, threshold)
}

func (q *DurableQueue) ResetProcessingToPending(ctx context.Context, sessionID int64) error {
	return q.store.ResetProcessingToPending(ctx, sessionID)
}

func (q *DurableQueue) HasAnyPendingWork(ctx context.Context) (bool, error) {
	return q.store.HasAnyPendingWork(ctx)
}

func (q *DurableQueue) PendingCount(ctx context.Context, sessionID int64) (int, error) {
	return q.store.PendingCount(ctx, sessionID)
}

func (q *DurableQueue) SessionsWithPendingMessages(ctx context.Context) ([]int64, error) {
	return q.store.SessionsWithPendingMessages(ctx)
}
