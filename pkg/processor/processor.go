// Package processor implements the Session Processor (C6): one
// cooperative loop per active session, driving a session.Iterator
// through the provider/parser/writer pipeline with retry, truncation,
// rollover, terminal-resume recovery, and the fatal-provider fallback
// chain. The loop shape is claim → process → ack, idle-waiting on an
// empty queue, with a retry/escalation ladder per item: one queued
// tool-observation or summarize request at a time.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/events"
	"github.com/sessionmemory/worker/pkg/parser"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
	"github.com/sessionmemory/worker/pkg/writer"
)

// errFatalExhausted is returned internally by query when every provider in
// the fallback chain has failed fatally or lacks credentials.
var errFatalExhausted = errors.New("processor: no provider in the fallback chain is usable")

// Deps are the shared, process-wide collaborators every session's
// Processor is built from. The orchestrator constructs one Deps and
// reuses it across every session.
type Deps struct {
	Store    *store.Client
	Queue    *queue.DurableQueue
	Sessions *session.Manager
	Writer   *writer.Writer

	// Providers holds one constructed client per configured provider
	// kind; ProviderOrder is the fallback chain, primary first
	// (native SDK → Gemini → OpenAI-compatible).
	Providers       map[config.ProviderKind]provider.Client
	ProviderOrder   []config.ProviderKind
	ProviderConfigs map[config.ProviderKind]config.ProviderConfig
}

// NewStartFunc adapts Deps into a session.StartFunc the Session Manager
// invokes to (re)start a session's loop, installing a fresh cancellation
// token on every call — a previous loop's token is never reused.
func NewStartFunc(deps Deps, queueCfg config.QueueConfig) session.StartFunc {
	return func(parent context.Context, sessionID int64, reason string) {
		ctx, cancel := context.WithCancel(context.Background())

		initial := deps.ProviderOrder[0]
		st, err := deps.Sessions.Register(ctx, sessionID, cancel, initial)
		if err != nil {
			slog.Error("processor: registering session failed", "session_id", sessionID, "error", err)
			cancel()
			return
		}

		p := &Processor{
			deps:             deps,
			queueCfg:         queueCfg,
			sessionID:        sessionID,
			contentSessionID: st.ContentSessionID,
			project:          st.Project,
			cancel:           cancel,
			providerIdx:      0,
		}
		slog.Info("processor: starting session loop", "session_id", sessionID, "reason", reason)
		go p.run(ctx)
	}
}

// Processor drives one session's cooperative loop.
type Processor struct {
	deps     Deps
	queueCfg config.QueueConfig

	sessionID        int64
	contentSessionID string
	project          string
	memorySessionID  string

	cancel      context.CancelFunc
	history     []provider.Message
	providerIdx int
}

func (p *Processor) currentProviderKind() config.ProviderKind {
	return p.deps.ProviderOrder[p.providerIdx]
}

func (p *Processor) currentProvider() provider.Client {
	return p.deps.Providers[p.currentProviderKind()]
}

// run is the state machine body: starting → idle ↔ busy → stopping →
// terminated. It returns once the session's work is drained
// and a stop is requested, the session is abandoned, or the context is
// cancelled.
func (p *Processor) run(ctx context.Context) {
	bus := p.deps.Sessions.BusFor(p.sessionID)
	stopCh := make(chan struct{})
	var stopOnce closeOnce
	token := bus.Subscribe(func(e events.Event) {
		if e.Kind == events.KindPendingRestart {
			stopOnce.close(stopCh)
		}
	})
	defer bus.Unsubscribe(token)

	if err := p.ensureMemorySessionID(ctx); err != nil {
		slog.Error("processor: bootstrapping memory_session_id failed", "session_id", p.sessionID, "error", err)
		return
	}

	if err := p.deliverSessionPrompt(ctx); err != nil {
		if isCleanStop(err) {
			p.deps.Sessions.SetIdle(p.sessionID)
			return
		}
		if errors.Is(err, errFatalExhausted) {
			p.abandonSession(ctx)
			return
		}
		slog.Error("processor: init/continuation prompt failed", "session_id", p.sessionID, "error", err)
	}

	wakeCh, unsubWake := bus.WakeChan()
	defer unsubWake()

	var iter session.Iterator
	if p.queueCfg.BatchSize > 1 {
		iter = session.NewBatchIterator(p.deps.Queue, p.sessionID, p.queueCfg.BatchSize, stopCh)
	} else {
		iter = session.NewSingleItemIterator(p.deps.Queue, p.sessionID, stopCh)
	}

	for {
		item, sig, err := iter.Next(ctx)
		if err != nil {
			slog.Error("processor: claiming next item failed", "session_id", p.sessionID, "error", err)
			return
		}

		switch sig {
		case session.SignalStop:
			p.deps.Sessions.SetIdle(p.sessionID)
			return

		case session.SignalIdle:
			p.deps.Sessions.SetIdle(p.sessionID)
			woke := session.IdleTimeoutWaiter(ctx, wakeCh, p.queueCfg.IdleTimeout)
			if ctx.Err() != nil {
				return
			}
			if !woke {
				// Idle-timeout elapsed: explicit cancel.
				p.cancel()
				return
			}

		case session.SignalNone:
			p.deps.Sessions.SetBusy(p.sessionID)
			stop, perr := p.processItem(ctx, item)
			if perr != nil {
				slog.Error("processor: processing item failed", "session_id", p.sessionID, "message_id", item.ID, "error", perr)
			}
			if stop {
				return
			}
		}
	}
}

// deliverSessionPrompt builds and sends the one-shot init/continuation
// prompt, independent of the queue.
func (p *Processor) deliverSessionPrompt(ctx context.Context) error {
	text, err := p.deps.Store.GetLatestUserPrompt(ctx, p.contentSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	var promptText string
	if text.PromptNumber <= 1 {
		promptText = buildInitPrompt(text.Text)
	} else {
		promptText = buildContinuationPrompt(text.Text)
	}

	result, skipped, err := p.query(ctx, promptText)
	if err != nil {
		return err
	}

	var parsed parser.Result
	if !skipped {
		parsed = parser.Parse(result.Content)
	}
	if len(parsed.Observations) == 0 && parsed.Summary == nil {
		return nil
	}

	now := time.Now().Unix()
	_, err = p.deps.Writer.Commit(ctx, writer.Input{
		SessionID:       p.sessionID,
		MemorySessionID: p.memorySessionID,
		Project:         p.project,
		Parsed:          parsed,
		MessageID:       nil,
		PromptNumber:    text.PromptNumber,
		DiscoveryTokens: result.InputTokens,
		CreatedAtEpoch:  &now,
	})
	return err
}

// processItem runs one queued item (observation or summarize) through the
// provider, writer, and bookkeeping.
func (p *Processor) processItem(ctx context.Context, item *store.PendingMessage) (stop bool, err error) {
	p.deps.Sessions.IncrementInFlight(p.sessionID)
	committed := false
	defer func() {
		if !committed {
			p.deps.Sessions.DecrementInFlight(p.sessionID)
		}
	}()

	promptText, err := promptForPayload(item)
	if err != nil {
		return false, err
	}

	result, skipped, qerr := p.query(ctx, promptText)
	if qerr != nil {
		if isCleanStop(qerr) {
			return true, nil
		}
		if errors.Is(qerr, errFatalExhausted) {
			p.abandonSession(ctx)
			return true, nil
		}
		// WriteError-shaped failures and anything else unclassified: leave
		// the row in processing (crash recovery's stuck-reset picks it
		// back up) and keep the loop alive.
		return false, qerr
	}

	var parsed parser.Result
	if !skipped {
		parsed = parser.Parse(result.Content)
	}

	promptNumber, err := p.deps.Store.GetPromptNumberFromPrompts(ctx, p.contentSessionID)
	if err != nil {
		return false, err
	}

	messageID := item.ID
	createdAt := item.CreatedAtEpoch
	_, err = p.deps.Writer.Commit(ctx, writer.Input{
		SessionID:       p.sessionID,
		MemorySessionID: p.memorySessionID,
		Project:         p.project,
		Parsed:          parsed,
		MessageID:       &messageID,
		PromptNumber:    promptNumber,
		DiscoveryTokens: result.InputTokens,
		CreatedAtEpoch:  &createdAt,
	})
	committed = true
	return false, err
}

// promptForPayload decodes a queued item's opaque JSON payload into its
// concrete shape and renders the per-item prompt sent to the provider.
func promptForPayload(item *store.PendingMessage) (string, error) {
	var header queue.PayloadHeader
	if err := json.Unmarshal([]byte(item.PayloadJSON), &header); err != nil {
		return "", fmt.Errorf("decoding payload kind: %w", err)
	}

	switch header.Kind {
	case queue.KindObservation:
		var payload queue.ObservationPayload
		if err := json.Unmarshal([]byte(item.PayloadJSON), &payload); err != nil {
			return "", fmt.Errorf("decoding observation payload: %w", err)
		}
		return buildObservationPrompt(item.Cwd, payload.ToolName, payload.ToolInput, payload.ToolResponse), nil
	case queue.KindSummarize:
		var payload queue.SummarizePayload
		if err := json.Unmarshal([]byte(item.PayloadJSON), &payload); err != nil {
			return "", fmt.Errorf("decoding summarize payload: %w", err)
		}
		return buildSummarizePrompt(payload.LastAssistantMessage), nil
	default:
		return "", fmt.Errorf("unknown payload kind %q", header.Kind)
	}
}

// ensureMemorySessionID bootstraps Session.MemorySessionID on first use,
// since none of the three provider kinds this repo wires return a session
// identifier the worker can treat as the stable foreign key.
func (p *Processor) ensureMemorySessionID(ctx context.Context) error {
	row, err := p.deps.Store.GetSessionByID(ctx, p.sessionID)
	if err != nil {
		return err
	}
	if row.MemorySessionID != nil && *row.MemorySessionID != "" {
		p.memorySessionID = *row.MemorySessionID
		return nil
	}
	id := uuid.NewString()
	if err := p.deps.Store.UpdateMemorySessionID(ctx, p.sessionID, id); err != nil {
		return err
	}
	p.memorySessionID = id
	return nil
}

// abandonSession is the last resort when no provider remains usable: every
// pending/processing row for this session is marked abandoned and the
// session is dropped from the registry.
func (p *Processor) abandonSession(ctx context.Context) {
	slog.Error("processor: no provider has credentials, abandoning session", "session_id", p.sessionID)
	if err := p.deps.Queue.MarkAllSessionAbandoned(ctx, p.sessionID); err != nil {
		slog.Error("processor: marking session abandoned failed", "session_id", p.sessionID, "error", err)
	}
	p.deps.Sessions.DeleteSession(context.Background(), p.sessionID, nil)
}

func isCleanStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// closeOnce close()s a channel at most once, used for the bus-driven
// cooperative-stop signal a processor's iterator watches.
type closeOnce struct {
	done bool
}

func (o *closeOnce) close(ch chan struct{}) {
	if !o.done {
		o.done = true
		close(ch)
	}
}
