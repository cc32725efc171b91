// Package api implements the Worker Orchestrator's HTTP surface (C8, spec
// §6): the coding host's entry points for session lifecycle, the admin
// and settings endpoints, and health/version/status. Grounded on the
// teacher's pkg/api/server.go (Echo v5, grouped routes, Set*-style
// optional wiring) with the session/queue/trace services it composes
// replaced by this repo's Store, DurableQueue, and Session Manager.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
	"github.com/sessionmemory/worker/pkg/version"
)

// Deps are the collaborators the HTTP surface composes; the orchestrator
// builds one Deps from the same components it hands to pkg/processor.
type Deps struct {
	Store     *store.Client
	Queue     *queue.DurableQueue
	Sessions  *session.Manager
	Providers map[config.ProviderKind]provider.Client
	DataDir   string

	// OnShutdownRequested is invoked (from the request goroutine) when
	// POST /api/admin/shutdown is called; the orchestrator supplies the
	// actual graceful-shutdown sequence. May be nil in tests.
	OnShutdownRequested func()
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	deps       Deps
	startedAt  time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config
}

// NewServer builds a Server with routes registered. cfg is the initial
// configuration snapshot; UpdateConfig swaps it in after a settings
// reload.
func NewServer(deps Deps, cfg *config.Config) *Server {
	e := echo.New()
	s := &Server{
		echo:      e,
		deps:      deps,
		startedAt: time.Now(),
		cfg:       cfg,
	}
	s.setupRoutes()
	return s
}

// UpdateConfig swaps in a freshly reloaded configuration snapshot, called
// by the orchestrator's settings watcher after every successful reload.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/api/health", s.healthHandler)
	s.echo.GET("/api/version", s.versionHandler)
	s.echo.GET("/api/status", s.statusHandler)

	s.echo.POST("/api/sessions/init", s.initSessionHandler)
	s.echo.POST("/api/sessions/observations", s.enqueueObservationHandler)
	s.echo.POST("/api/sessions/summarize", s.enqueueSummarizeHandler)
	s.echo.POST("/api/sessions/complete", s.completeSessionHandler)

	s.echo.POST("/api/admin/restart", s.adminRestartHandler)
	s.echo.POST("/api/admin/shutdown", s.adminShutdownHandler)

	s.echo.GET("/api/settings", s.getSettingsHandler)
	s.echo.POST("/api/settings", s.postSettingsHandler)

	s.echo.GET("/api/models", s.listModelsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-bound listener instead of an address,
// so the caller can learn the actual port (e.g. when addr requests port 0)
// before writing it to worker.pid.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{
		Version: version.Full(),
		Commit:  version.GitCommit,
	})
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
	Provider       string `json:"provider"`
}

func (s *Server) statusHandler(c *echo.Context) error {
	cfg := s.config()
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        version.Full(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions: len(s.deps.Sessions.ActiveSessionIDs()),
		Provider:       string(cfg.Provider),
	})
}
