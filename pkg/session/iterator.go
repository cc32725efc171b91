package session

import (
	"context"
	"errors"
	"time"

	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/store"
)

// Signal is what Iterator.Next returns when there is no item to hand back.
type Signal int

const (
	SignalNone Signal = iota // an item was returned
	SignalIdle               // queue is empty, caller should wait for a wake
	SignalStop               // cooperative stop requested
)

// Iterator is an explicit pull-based alternative to an async generator:
// `next(ctx) -> item | idle | stop`. The Session Processor (C6) drives it
// directly instead of a
// language-level generator protocol.
type Iterator interface {
	Next(ctx context.Context) (*store.PendingMessage, Signal, error)
}

// singleItemIterator claims and returns one PendingMessage per Next call —
// the shipped default; batching is optional and defaults to off.
type singleItemIterator struct {
	q         *queue.DurableQueue
	sessionID int64
	stopCh    <-chan struct{}
}

// NewSingleItemIterator builds the default queue iterator for one session.
// stopCh fires on cooperative stop; the caller (pkg/processor) waits on its
// own wake channel between Next calls when SignalIdle is returned.
func NewSingleItemIterator(q *queue.DurableQueue, sessionID int64, stopCh <-chan struct{}) Iterator {
	return &singleItemIterator{q: q, sessionID: sessionID, stopCh: stopCh}
}

func (it *singleItemIterator) Next(ctx context.Context) (*store.PendingMessage, Signal, error) {
	select {
	case <-it.stopCh:
		return nil, SignalStop, nil
	default:
	}

	msg, err := it.q.Claim(ctx, it.sessionID)
	if err == nil {
		return msg, SignalNone, nil
	}
	if errors.Is(err, queue.ErrNoSessionsAvailable) {
		return nil, SignalIdle, nil
	}
	return nil, SignalNone, err
}

// batchIterator claims up to batchSize messages per underlying fetch,
// returning them one at a time from an internal buffer before re-claiming.
// This is the optional batching path, shipped present but disabled unless
// QueueConfig.BatchSize > 1
// (see pkg/processor).
type batchIterator struct {
	q         *queue.DurableQueue
	sessionID int64
	stopCh    <-chan struct{}
	batchSize int
	buf       []*store.PendingMessage
}

// NewBatchIterator builds an iterator that claims up to batchSize messages
// per underlying fetch.
func NewBatchIterator(q *queue.DurableQueue, sessionID int64, batchSize int, stopCh <-chan struct{}) Iterator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &batchIterator{q: q, sessionID: sessionID, stopCh: stopCh, batchSize: batchSize}
}

func (it *batchIterator) Next(ctx context.Context) (*store.PendingMessage, Signal, error) {
	select {
	case <-it.stopCh:
		return nil, SignalStop, nil
	default:
	}

	if len(it.buf) > 0 {
		msg := it.buf[0]
		it.buf = it.buf[1:]
		return msg, SignalNone, nil
	}

	for i := 0; i < it.batchSize; i++ {
		msg, err := it.q.Claim(ctx, it.sessionID)
		if err != nil {
			if errors.Is(err, queue.ErrNoSessionsAvailable) {
				break
			}
			return nil, SignalNone, err
		}
		it.buf = append(it.buf, msg)
	}

	if len(it.buf) == 0 {
		return nil, SignalIdle, nil
	}
	msg := it.buf[0]
	it.buf = it.buf[1:]
	return msg, SignalNone, nil
}

// IdleTimeoutWaiter blocks until either a wake arrives on wakeCh, the idle
// timeout elapses, or the context is cancelled. It returns false on
// timeout so the processor can trigger its own explicit cancellation.
func IdleTimeoutWaiter(ctx context.Context, wakeCh <-chan struct{}, idleTimeout time.Duration) bool {
	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wakeCh:
		return true
	case <-timer.C:
		return false
	}
}
