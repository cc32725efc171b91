package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sessionmemory/worker/pkg/config"
)

// redactedMarker replaces any settings.json value whose key ends in
// "api_key" before it is ever sent back over HTTP — localhost-only but
// still never worth echoing a live credential.
const redactedMarker = "***"

// getSettingsHandler handles GET /api/settings (localhost-only): returns
// the raw flat settings.json map with credential fields redacted.
func (s *Server) getSettingsHandler(c *echo.Context) error {
	raw, err := config.LoadSettingsFile(s.deps.DataDir)
	if err != nil {
		return mapStoreError(err)
	}
	redactSecrets(raw)
	return c.JSON(http.StatusOK, raw)
}

// postSettingsHandler handles POST /api/settings (localhost-only):
// shallow-merges the request body into settings.json. The fsnotify
// -backed Watcher (pkg/config) picks up the write, reloads, diffs
// restart-trigger keys, and schedules session restarts if needed (spec
// §4.8) — this handler only persists the file and refreshes this
// server's cached config (the one /api/status reports from). GET
// /api/settings reads settings.json directly, not that cache.
func (s *Server) postSettingsHandler(c *echo.Context) error {
	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := config.SaveSettingsFile(s.deps.DataDir, updates); err != nil {
		return mapStoreError(err)
	}

	if cfg, err := config.Load(s.deps.DataDir); err == nil {
		s.UpdateConfig(cfg)
	}

	return c.NoContent(http.StatusNoContent)
}

func redactSecrets(m map[string]any) {
	for k, v := range m {
		switch nested := v.(type) {
		case map[string]any:
			redactSecrets(nested)
		default:
			if strings.HasSuffix(k, "api_key") {
				m[k] = redactedMarker
			}
		}
	}
}
