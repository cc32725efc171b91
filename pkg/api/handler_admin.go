package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// adminRestartHandler handles POST /api/admin/restart (localhost-only):
// schedules a cooperative restart of every active session's processor
// loop, the same mechanism a settings-trigger reload uses.
func (s *Server) adminRestartHandler(c *echo.Context) error {
	s.deps.Sessions.ScheduleRestartsForSettingsChange("admin_restart_requested")
	return c.NoContent(http.StatusAccepted)
}

// adminShutdownHandler handles POST /api/admin/shutdown (localhost-only):
// signals the orchestrator to run the graceful shutdown sequence (spec
// §4.8). The HTTP response is sent before shutdown completes, since the
// server that would send it is itself being stopped.
func (s *Server) adminShutdownHandler(c *echo.Context) error {
	if s.deps.OnShutdownRequested != nil {
		go s.deps.OnShutdownRequested()
	}
	return c.NoContent(http.StatusAccepted)
}
