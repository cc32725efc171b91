package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/events"
	"github.com/sessionmemory/worker/pkg/store"
)

// StartFunc starts (or restarts) a session's processor loop. The Manager
// calls it when a new session is registered or when a restart is judged
// safe; the concrete implementation lives in pkg/processor to avoid an
// import cycle (processor depends on session, not the reverse), per spec
// §9's "never form an ownership cycle" guidance.
type StartFunc func(ctx context.Context, sessionID int64, reason string)

// Manager owns the registry of active sessions. The
// orchestrator owns the Manager; the Manager owns each session's state and
// cancellation token; processors hold only a read-only Snapshot plus the
// specific mutation methods below.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*State
	store    *store.Client
	start    StartFunc

	staggerDelay time.Duration
}

// New builds a Manager bound to the record store. start is invoked
// (from a new goroutine) whenever a restart is triggered.
func New(s *store.Client, staggerDelay time.Duration, start StartFunc) *Manager {
	return &Manager{
		sessions:     make(map[int64]*State),
		store:        s,
		start:        start,
		staggerDelay: staggerDelay,
	}
}

// SetStartFunc assigns the StartFunc after construction, for callers that
// must build the Manager before the processor Deps that close over it
// exist (the orchestrator's wiring order: Manager -> Queue/Writer/Deps ->
// StartFunc). Not safe to call concurrently with Register/restart.
func (m *Manager) SetStartFunc(start StartFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = start
}

// Register creates (or returns the existing) in-memory State for a
// session, refreshing it from the store — so a database-side fix such as
// clearing a stale resume token takes effect without re-creating the
// session in memory.
func (m *Manager) Register(ctx context.Context, sessionID int64, cancel context.CancelFunc, provider config.ProviderKind) (*State, error) {
	row, err := m.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		st = &State{
			SessionID: sessionID,
			Bus:       events.New(),
		}
		m.sessions[sessionID] = st
	}
	st.ContentSessionID = row.ContentSessionID
	st.Project = row.Project
	st.CurrentProvider = provider
	st.Cancel = cancel
	st.GeneratorIdle = false
	return st, nil
}

// EnsureStarted starts a session's processor loop if no loop is currently
// registered for it, used by the HTTP surface (C8) after enqueueing the
// first piece of work for a session. A placeholder State is
// inserted synchronously under the registry lock before start is invoked
// so two concurrent callers for the same brand-new session never both
// fire a start (the second sees the placeholder and returns).
func (m *Manager) EnsureStarted(ctx context.Context, sessionID int64, reason string) {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return
	}
	m.sessions[sessionID] = &State{SessionID: sessionID, Bus: events.New()}
	m.mu.Unlock()

	if m.start != nil {
		go m.start(ctx, sessionID, reason)
	}
}

// BusFor implements queue.Buses: resolves a session's event bus, creating
// an empty one if the session is not yet registered (so Enqueue never
// blocks on session startup ordering).
func (m *Manager) BusFor(sessionID int64) *events.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &State{SessionID: sessionID, Bus: events.New()}
		m.sessions[sessionID] = st
	}
	return st.Bus
}

// Snapshot returns an immutable copy of a session's state, or ok=false if
// not registered.
func (m *Manager) Snapshot(sessionID int64) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(st), true
}

func snapshotOf(st *State) Snapshot {
	return Snapshot{
		SessionID:          st.SessionID,
		ContentSessionID:   st.ContentSessionID,
		Project:            st.Project,
		InFlightCount:      st.InFlightCount,
		GeneratorIdle:      st.GeneratorIdle,
		IdleSince:          st.IdleSince,
		PendingRestart:     st.PendingRestart,
		RecoveryInProgress: st.RecoveryInProgress,
		CurrentProvider:    st.CurrentProvider,
	}
}

// IncrementInFlight marks the start of a claim→write cycle.
func (m *Manager) IncrementInFlight(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		st.InFlightCount++
		st.GeneratorIdle = false
	}
}

// DecrementInFlight marks the end of a claim→write cycle. Never goes
// negative.
func (m *Manager) DecrementInFlight(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok && st.InFlightCount > 0 {
		st.InFlightCount--
	}
}

// SetIdle records that a processor's loop has nothing left to claim and
// publishes the idle event.
func (m *Manager) SetIdle(sessionID int64) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if ok {
		st.GeneratorIdle = true
		st.IdleSince = time.Now()
	}
	m.mu.Unlock()
	if ok {
		st.Bus.Idle(sessionID)
		m.maybeFireReadyRestart(sessionID)
	}
}

// SetBusy records that a claim is in flight and publishes the busy event.
func (m *Manager) SetBusy(sessionID int64) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if ok {
		st.GeneratorIdle = false
	}
	m.mu.Unlock()
	if ok {
		st.Bus.Busy(sessionID, st.InFlightCount)
	}
}

// SetCurrentProvider records which provider kind is currently answering a
// session's calls, surfaced read-only via Snapshot after the
// processor's fallback chain switches providers mid-session.
func (m *Manager) SetCurrentProvider(sessionID int64, kind config.ProviderKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		st.CurrentProvider = kind
	}
}

// SafeToRestart reports whether a session's processor can be restarted
// without losing in-flight work: it must be registered, idle,
// and have zero in-flight claims.
func (m *Manager) SafeToRestart(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return ok && st.GeneratorIdle && st.InFlightCount == 0
}

// ScheduleRestartsForSettingsChange marks every registered session for
// restart; sessions already safe to restart fire immediately, the rest are
// staggered by staggerDelay to avoid a thundering herd on the provider.
func (m *Manager) ScheduleRestartsForSettingsChange(reason string) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sessions))
	for id, st := range m.sessions {
		st.PendingRestart = &PendingRestart{Reason: reason, RequestedAt: time.Now()}
		st.Bus.PendingRestart(id, reason)
		ids = append(ids, id)
	}
	m.mu.Unlock()

	delay := time.Duration(0)
	for _, id := range ids {
		if m.SafeToRestart(id) {
			m.fireRestart(id, reason)
			continue
		}
		delay += m.staggerDelay
		go func(id int64, d time.Duration) {
			time.Sleep(d)
			m.maybeFireReadyRestart(id)
		}(id, delay)
	}
}

// maybeFireReadyRestart fires a pending restart the first moment a session
// becomes safe to restart, called both from SetIdle and from the staggered
// goroutines ScheduleRestartsForSettingsChange spawns.
func (m *Manager) maybeFireReadyRestart(sessionID int64) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || st.PendingRestart == nil || !(st.GeneratorIdle && st.InFlightCount == 0) {
		m.mu.Unlock()
		return
	}
	reason := st.PendingRestart.Reason
	st.PendingRestart = nil
	m.mu.Unlock()
	m.fireRestart(sessionID, reason)
}

func (m *Manager) fireRestart(sessionID int64, reason string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	var cancel context.CancelFunc
	if ok {
		cancel = st.Cancel
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	if m.start != nil {
		go m.start(context.Background(), sessionID, reason)
	}
}

// DeleteSession cancels a session's processor, waits briefly for it to
// settle, and removes it from the registry. The provided
// waitForExit callback lets the orchestrator confirm any tracked child
// process (native-SDK subprocess, if ever used) has actually exited before
// the bounded wait elapses; it may be nil.
func (m *Manager) DeleteSession(ctx context.Context, sessionID int64, waitForExit func(context.Context) bool) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	cancel := st.Cancel
	bus := st.Bus
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if waitForExit != nil {
		settleCtx, done := context.WithTimeout(ctx, 5*time.Second)
		defer done()
		if !waitForExit(settleCtx) {
			slog.Warn("session process did not exit within grace period", "session_id", sessionID)
		}
	}
	bus.SessionCompleted(sessionID)
}

// ActiveSessionIDs lists every currently registered session, used by the
// orchestrator's reap loop to find registry entries whose session row is
// gone from the store, and by shutdown.
func (m *Manager) ActiveSessionIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SetRecoveryInProgress toggles the per-session recovery flag that
// prevents duplicate crash-recovery restarts.
func (m *Manager) SetRecoveryInProgress(sessionID int64, inProgress bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		st.RecoveryInProgress = inProgress
	}
}

// IsRecoveryInProgress reports the per-session recovery flag.
func (m *Manager) IsRecoveryInProgress(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return ok && st.RecoveryInProgress
}
