package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/parser"
)

// Manager lifecycles the child embedding server and mediates every sync,
// query, and maintenance operation through an httpBackend. It runs a
// ticker-driven background health loop with a circuit breaker counting
// consecutive failures, guarding a "current client" pattern behind a mutex.
type Manager struct {
	cfg config.VectorIndexConfig

	mu          sync.Mutex
	backend     Backend
	cmd         *exec.Cmd
	healthy     bool
	failures    int
	circuitOpen bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds an unstarted Manager.
func NewManager(cfg config.VectorIndexConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start discovers or spawns the child embedding server, blocks until it
// reports healthy (or cfg.StartupTimeout elapses), then launches the
// periodic health-check loop.
func (m *Manager) Start(ctx context.Context) error {
	backend := newHTTPBackend(m.cfg.Addr)

	startCtx, cancelStart := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancelStart()

	if err := backend.Heartbeat(startCtx); err != nil {
		// No server answering the configured address: spawn our own.
		cmd, err := spawnEmbedServer(m.cfg)
		if err != nil {
			return fmt.Errorf("vectorindex: spawning embedding server: %w", err)
		}
		m.mu.Lock()
		m.cmd = cmd
		m.mu.Unlock()

		if err := waitHealthy(startCtx, backend, 250*time.Millisecond); err != nil {
			return fmt.Errorf("vectorindex: embedding server did not become healthy: %w", err)
		}
	}

	m.mu.Lock()
	m.backend = backend
	m.healthy = true
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.healthLoop(loopCtx)
	return nil
}

func spawnEmbedServer(cfg config.VectorIndexConfig) (*exec.Cmd, error) {
	cmd := exec.Command(cfg.BinaryPath, "--data-dir", cfg.DataDir, "--addr", cfg.Addr)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func waitHealthy(ctx context.Context, backend *httpBackend, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if err := backend.Heartbeat(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth(ctx)
		}
	}
}

func (m *Manager) checkHealth(ctx context.Context) {
	m.mu.Lock()
	backend := m.backend
	circuitOpen := m.circuitOpen
	m.mu.Unlock()
	if backend == nil || circuitOpen {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := backend.Heartbeat(checkCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.healthy = true
		m.failures = 0
		return
	}

	m.healthy = false
	m.failures++
	slog.Warn("vector index health check failed", "error", err, "consecutive_failures", m.failures)

	if m.failures >= m.cfg.CircuitBreakerTrip {
		m.circuitOpen = true
		slog.Error("vector index circuit breaker tripped, giving up on restarts", "failures", m.failures)
		return
	}

	go m.restart(ctx)
}

// restart kills the current child (if we own one) and respawns it with
// exponential backoff between RestartBackoffMin and RestartBackoffMax.
func (m *Manager) restart(ctx context.Context) {
	m.mu.Lock()
	cmd := m.cmd
	attempt := m.failures
	m.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	backoff := m.cfg.RestartBackoffMin * time.Duration(1<<uint(attempt-1))
	if backoff > m.cfg.RestartBackoffMax {
		backoff = m.cfg.RestartBackoffMax
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	newCmd, err := spawnEmbedServer(m.cfg)
	if err != nil {
		slog.Warn("vector index restart failed", "error", err)
		return
	}

	m.mu.Lock()
	m.cmd = newCmd
	m.mu.Unlock()
}

// IsHealthy reports the last health check's result.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy && !m.circuitOpen
}

func (m *Manager) currentBackend() Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend
}

// SyncObservation upserts one Observation's vector documents. Satisfies
// pkg/writer.VectorSyncer.
func (m *Manager) SyncObservation(ctx context.Context, memorySessionID, project string, observationID int64, obs parser.Observation, createdAtEpoch int64) error {
	docs := ObservationDocuments(observationID, project, obs, createdAtEpoch)
	if len(docs) == 0 {
		return nil
	}
	return m.upsert(ctx, project, docs)
}

// SyncSummary upserts one Summary's vector documents. Satisfies
// pkg/writer.VectorSyncer.
func (m *Manager) SyncSummary(ctx context.Context, memorySessionID, project string, summaryID int64, sum parser.Summary, createdAtEpoch int64) error {
	docs := SummaryDocuments(summaryID, project, sum, createdAtEpoch)
	if len(docs) == 0 {
		return nil
	}
	return m.upsert(ctx, project, docs)
}

// SyncPrompt upserts one UserPrompt's vector document.
func (m *Manager) SyncPrompt(ctx context.Context, project string, promptID int64, text string, createdAtEpoch int64) error {
	return m.upsert(ctx, project, []Document{PromptDocument(promptID, project, text, createdAtEpoch)})
}

func (m *Manager) upsert(ctx context.Context, project string, docs []Document) error {
	backend := m.currentBackend()
	if backend == nil {
		return fmt.Errorf("vectorindex: not started")
	}
	return backend.Upsert(ctx, CollectionName(project), docs)
}

// Query performs a semantic search over a project's collection, returning
// an empty slice (never an error the caller must branch on) when the
// backend is unavailable — unavailability short-circuits to empty results
// rather than failing the caller.
func (m *Manager) Query(ctx context.Context, project, text string, topK int) []QueryResult {
	backend := m.currentBackend()
	if backend == nil {
		return nil
	}
	results, err := backend.Query(ctx, CollectionName(project), text, topK)
	if err != nil {
		slog.Warn("vector index query failed", "project", project, "error", err)
		return nil
	}
	return results
}

// RunMaintenance performs the two best-effort maintenance jobs:
// orphan-collection cleanup and the per-project retention cap.
// allCollections and documentsByCollection are provided by the caller,
// which knows how to enumerate collections and per-collection document
// metadata from the backend's actual wire format.
func (m *Manager) RunMaintenance(ctx context.Context, allCollections []string, documentsByCollection map[string][]DocumentMeta, maxItemsPerProject int) {
	backend := m.currentBackend()
	if backend == nil {
		return
	}

	for _, orphan := range IdentifyOrphanedCollections(allCollections) {
		ids, err := backend.ListIDs(ctx, orphan)
		if err != nil {
			slog.Warn("vector index maintenance: listing orphan collection failed", "collection", orphan, "error", err)
			continue
		}
		if err := backend.Delete(ctx, orphan, ids); err != nil {
			slog.Warn("vector index maintenance: deleting orphan collection failed", "collection", orphan, "error", err)
		}
	}

	for collection, docs := range documentsByCollection {
		toPrune := IdentifyDocumentsToPrune(docs, maxItemsPerProject)
		if len(toPrune) == 0 {
			continue
		}
		if err := backend.Delete(ctx, collection, toPrune); err != nil {
			slog.Warn("vector index maintenance: retention prune failed", "collection", collection, "error", err)
		}
	}
}

// Close shuts the manager down: stop the health loop, then gracefully
// terminate any child process we spawned (terminate, wait, force-kill).
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.mu.Lock()
	backend := m.backend
	cmd := m.cmd
	m.mu.Unlock()

	if backend != nil {
		_ = backend.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case err := <-waited:
		return err
	case <-time.After(m.cfg.ShutdownGrace):
	}

	_ = cmd.Process.Kill()
	select {
	case err := <-waited:
		return err
	case <-time.After(m.cfg.ShutdownForceAfter):
		return fmt.Errorf("vectorindex: child process did not exit after force kill")
	}
}
