// Package orchestrator wires together the Store, Session Manager, Durable
// Queue, Vector Index Manager, and HTTP API into a single running worker
// process, and owns the process-lifetime background loops: settings
// hot-reload, stuck-session recovery, and orphan-subprocess reaping.
// Components are brought up in a fixed order (config, then database, then
// services, then server). The recovery and reap loops run on independent
// timers: the recovery loop waits a jittered interval between passes, the
// reap loop a fixed one.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sessionmemory/worker/pkg/api"
	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/processor"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
	"github.com/sessionmemory/worker/pkg/vectorindex"
	"github.com/sessionmemory/worker/pkg/writer"
)

// Orchestrator owns every long-lived component of the worker process and
// sequences their startup and shutdown.
type Orchestrator struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	store    *store.Client
	sessions *session.Manager
	queue    *queue.DurableQueue
	vectors  *vectorindex.Manager
	server   *api.Server
	watcher  *config.Watcher

	providers     map[config.ProviderKind]provider.Client
	providerOrder []config.ProviderKind

	recoveryStop chan struct{}
	reapStop     chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// New assembles every component from cfg but starts nothing; call Run to
// bring the process up.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if n, err := st.ResetStuck(ctx, cfg.Queue.StuckThreshold); err != nil {
		slog.Warn("resetting stuck queue rows at startup failed", "error", err)
	} else if n > 0 {
		slog.Info("reset stuck queue rows at startup", "count", n)
	}

	store.MaxAttempts = cfg.Queue.MaxAttempts

	vectors := vectorindex.NewManager(cfg.VectorIndex)

	providers, order := buildProviders(cfg)

	sessions := session.New(st, cfg.Queue.RestartStaggerDelay, nil)
	q := queue.New(st, sessions)
	w := writer.New(st, sessions, vectors)

	deps := processor.Deps{
		Store:           st,
		Queue:           q,
		Sessions:        sessions,
		Writer:          w,
		Providers:       providers,
		ProviderOrder:   order,
		ProviderConfigs: cfg.Providers,
	}
	sessions.SetStartFunc(processor.NewStartFunc(deps, cfg.Queue))

	o := &Orchestrator{
		cfg:           cfg,
		store:         st,
		sessions:      sessions,
		queue:         q,
		vectors:       vectors,
		providers:     providers,
		providerOrder: order,
		recoveryStop:  make(chan struct{}),
		reapStop:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	apiDeps := api.Deps{
		Store:               st,
		Queue:               q,
		Sessions:            sessions,
		Providers:           providers,
		DataDir:             cfg.DataDir,
		OnShutdownRequested: o.requestShutdown,
	}
	o.server = api.NewServer(apiDeps, cfg)

	o.watcher = config.NewWatcher(cfg.DataDir, cfg, o.onConfigChange)

	return o, nil
}

// buildProviders constructs one client per provider with credentials
// present, in the fixed fallback order: native SDK first, then Gemini, then
// the OpenAI-compatible endpoint.
func buildProviders(cfg *config.Config) (map[config.ProviderKind]provider.Client, []config.ProviderKind) {
	clients := make(map[config.ProviderKind]provider.Client)
	order := []config.ProviderKind{config.ProviderAnthropic, config.ProviderGemini, config.ProviderOpenAICompat}

	for _, kind := range order {
		pc, ok := cfg.Providers[kind]
		if !ok || !pc.HasCredentials() {
			continue
		}
		switch kind {
		case config.ProviderAnthropic:
			clients[kind] = provider.NewAnthropicClient(pc.APIKey, pc.Model, pc.RPM)
		case config.ProviderGemini:
			ctx := context.Background()
			client, err := provider.NewGeminiClient(ctx, pc.APIKey, pc.Model, pc.RPM)
			if err != nil {
				slog.Error("constructing gemini client failed, fallback tier unavailable", "error", err)
				continue
			}
			clients[kind] = client
		case config.ProviderOpenAICompat:
			clients[kind] = provider.NewOpenAICompatClient(pc.APIKey, pc.BaseURL, pc.Model, pc.RPM)
		}
	}

	active := make([]config.ProviderKind, 0, len(order))
	for _, kind := range order {
		if _, ok := clients[kind]; ok {
			active = append(active, kind)
		}
	}
	return clients, active
}

// Run binds addr, starts the vector index child, the HTTP server, the
// settings watcher, and both background timers, then blocks until
// shutdown completes (triggered by POST /api/admin/shutdown or ctx
// cancellation). onListening, if non-nil, is called once the listener is
// bound and before anything is served, so a caller can write a pidfile
// with the actual bound address (addr may request port 0).
func (o *Orchestrator) Run(ctx context.Context, addr string, onListening func(net.Addr)) error {
	if len(o.providerOrder) == 0 {
		return fmt.Errorf("no provider has credentials configured")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding http listener: %w", err)
	}
	if onListening != nil {
		onListening(ln.Addr())
	}

	if err := o.vectors.Start(ctx); err != nil {
		slog.Error("vector index manager failed to start, continuing without semantic search", "error", err)
	}

	o.watcher.Start()

	go o.recoveryLoop(ctx)
	go o.reapLoop(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := o.server.StartWithListener(ln); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("http server stopped unexpectedly", "error", err)
		}
	case <-o.done:
	}

	return o.shutdown()
}

func (o *Orchestrator) requestShutdown() {
	o.shutdownOnce.Do(func() { close(o.done) })
}

// onConfigChange is the Watcher's ChangeHandler: it refreshes the server's
// config snapshot unconditionally, and only schedules a cooperative
// restart of active sessions when a restart-trigger key actually changed.
func (o *Orchestrator) onConfigChange(cfg *config.Config, restartNeeded bool, reason string) {
	o.setConfig(cfg)
	o.server.UpdateConfig(cfg)
	if restartNeeded {
		o.sessions.ScheduleRestartsForSettingsChange(reason)
	}
}

func (o *Orchestrator) setConfig(cfg *config.Config) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.cfg = cfg
}

func (o *Orchestrator) config() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// recoveryLoop periodically restarts processors for sessions that have
// pending queue work but no registered loop, bounded per pass by
// cfg.Queue.RecoveryBatchSize. Each wait is jittered by 0-20% of the
// interval, so that a fleet of workers restarted together doesn't all
// recover in lockstep.
func (o *Orchestrator) recoveryLoop(ctx context.Context) {
	for {
		queueCfg := o.config().Queue
		interval := queueCfg.RecoveryInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		jitter := time.Duration(0)
		if span := int64(interval) / 5; span > 0 {
			jitter = time.Duration(rand.Int63n(span))
		}
		select {
		case <-ctx.Done():
			return
		case <-o.recoveryStop:
			return
		case <-time.After(interval + jitter):
		}

		ids, err := o.queue.SessionsWithPendingMessages(ctx)
		if err != nil {
			slog.Error("recovery scan failed", "error", err)
			continue
		}

		started := 0
		for _, id := range ids {
			if started >= queueCfg.RecoveryBatchSize {
				slog.Warn("recovery pass hit its batch cap, remaining sessions wait for next tick",
					"batch_size", queueCfg.RecoveryBatchSize, "pending", len(ids)-started)
				break
			}
			if _, ok := o.sessions.Snapshot(id); ok {
				continue
			}
			o.sessions.EnsureStarted(ctx, id, "recovery_scan")
			started++
		}
	}
}

// reapLoop periodically logs sessions whose in-memory registration has
// gone stale relative to the store. This worker has no child subprocess of
// its own to kill, so the only orphan state possible is a registry entry
// whose session was deleted out from under it.
func (o *Orchestrator) reapLoop(ctx context.Context) {
	for {
		interval := o.config().Queue.OrphanReapInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-o.reapStop:
			return
		case <-time.After(interval):
		}

		for _, id := range o.sessions.ActiveSessionIDs() {
			if _, err := o.store.GetSessionByID(ctx, id); err != nil {
				slog.Warn("reaping registry entry for session missing from store", "session_id", id)
				o.sessions.DeleteSession(ctx, id, nil)
			}
		}
	}
}

// shutdown stops the background loops and HTTP server, drains in-flight
// sessions up to cfg.Queue.GracefulShutdownTimeout, then closes the vector
// index and store.
func (o *Orchestrator) shutdown() error {
	close(o.recoveryStop)
	close(o.reapStop)

	graceful := o.config().Queue.GracefulShutdownTimeout

	shutdownCtx, cancel := context.WithTimeout(context.Background(), graceful)
	defer cancel()

	if err := o.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	if len(o.sessions.ActiveSessionIDs()) > 0 {
		o.sessions.ScheduleRestartsForSettingsChange("process_shutdown")
	}

	deadline := time.Now().Add(graceful)
	for len(o.sessions.ActiveSessionIDs()) > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	if err := o.vectors.Close(); err != nil {
		slog.Error("vector index close error", "error", err)
	}
	if err := o.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
