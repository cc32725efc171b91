// Package writer implements the second half of the Response Parser +
// Writer (C5): taking parsed observations/summary and committing them
// atomically to the record store together with queue acknowledgement,
// then fanning out to the vector index and event bus outside the
// transaction.
package writer

import (
	"context"
	"log/slog"

	"github.com/sessionmemory/worker/pkg/events"
	"github.com/sessionmemory/worker/pkg/parser"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
)

// VectorSyncer is the subset of the Vector Index Manager (C3) the Writer
// needs. Defined here, at the point of use, so pkg/writer never imports
// pkg/vectorindex directly — the concrete *vectorindex.Manager satisfies
// this without either package depending on the other's internals.
type VectorSyncer interface {
	SyncObservation(ctx context.Context, memorySessionID string, project string, observationID int64, obs parser.Observation, createdAtEpoch int64) error
	SyncSummary(ctx context.Context, memorySessionID string, project string, summaryID int64, sum parser.Summary, createdAtEpoch int64) error
}

// Input is everything the Writer needs to commit one provider reply.
type Input struct {
	SessionID       int64
	MemorySessionID string
	Project         string
	Parsed          parser.Result
	MessageID       *int64 // nil when the call wasn't driven by a queued message
	PromptNumber    int
	DiscoveryTokens int
	CreatedAtEpoch  *int64 // nil uses now; set to the original queued-message timestamp when available
}

// Writer commits parsed provider replies and fans out side effects.
type Writer struct {
	store    *store.Client
	sessions *session.Manager
	vectors  VectorSyncer
}

// New builds a Writer. vectors may be nil, in which case vector sync is
// skipped entirely (e.g. during tests, or while the vector index manager
// is still starting up) — unavailability short-circuits to a no-op for
// writes rather than failing them.
func New(s *store.Client, sessions *session.Manager, vectors VectorSyncer) *Writer {
	return &Writer{store: s, sessions: sessions, vectors: vectors}
}

// Commit stores in.Parsed atomically (with queue acknowledgement when
// in.MessageID is set), then starts a goroutine that syncs the new
// records to the vector index and broadcasts them on the session's event
// bus. The session's in-flight counter is decremented when Commit
// returns, which may be before that goroutine has finished.
func (w *Writer) Commit(ctx context.Context, in Input) (*store.StoreResult, error) {
	defer w.sessions.DecrementInFlight(in.SessionID)

	if len(in.Parsed.Observations) == 0 && in.Parsed.Summary == nil {
		if in.MessageID != nil {
			if err := w.store.MarkProcessed(ctx, *in.MessageID); err != nil {
				return nil, err
			}
		}
		return &store.StoreResult{}, nil
	}

	observations := make([]store.ObservationInput, 0, len(in.Parsed.Observations))
	for _, o := range in.Parsed.Observations {
		observations = append(observations, store.ObservationInput{
			Type:          o.Type,
			Title:         o.Title,
			Subtitle:      o.Subtitle,
			Narrative:     o.Narrative,
			Facts:         o.Facts,
			Concepts:      o.Concepts,
			FilesRead:     o.FilesRead,
			FilesModified: o.FilesModified,
		})
	}

	var summary *store.SummaryInput
	if in.Parsed.Summary != nil {
		s := in.Parsed.Summary
		summary = &store.SummaryInput{
			Request:      s.Request,
			Investigated: s.Investigated,
			Learned:      s.Learned,
			Completed:    s.Completed,
			NextSteps:    s.NextSteps,
			Notes:        s.Notes,
		}
	}

	result, err := w.store.StoreObservationsAtomic(
		ctx,
		in.MemorySessionID,
		in.Project,
		observations,
		summary,
		in.MessageID,
		in.PromptNumber,
		in.DiscoveryTokens,
		in.CreatedAtEpoch,
	)
	if err != nil {
		return nil, err
	}

	go w.syncAndBroadcast(in, result)
	return result, nil
}

// syncAndBroadcast runs outside the caller's hot path: sync failures are
// logged and dropped — backfill recovers anything missed — never blocking
// the processor loop.
func (w *Writer) syncAndBroadcast(in Input, result *store.StoreResult) {
	ctx := context.Background()
	createdAt := result.CreatedAtEpoch

	for i, obs := range in.Parsed.Observations {
		if i >= len(result.ObservationIDs) {
			break
		}
		id := result.ObservationIDs[i]
		if w.vectors != nil {
			if err := w.vectors.SyncObservation(ctx, in.MemorySessionID, in.Project, id, obs, createdAt); err != nil {
				slog.Warn("vector sync failed for observation", "observation_id", id, "error", err)
			}
		}
		bus := w.sessions.BusFor(in.SessionID)
		bus.Publish(events.Event{Kind: events.KindMessage, SessionID: in.SessionID})
	}

	if in.Parsed.Summary != nil && result.SummaryID != nil {
		if w.vectors != nil {
			if err := w.vectors.SyncSummary(ctx, in.MemorySessionID, in.Project, *result.SummaryID, *in.Parsed.Summary, createdAt); err != nil {
				slog.Warn("vector sync failed for summary", "summary_id", *result.SummaryID, "error", err)
			}
		}
	}
}
