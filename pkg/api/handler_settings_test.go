package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/config"
)

func TestPostThenGetSettingsRedactsAPIKeys(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.postSettingsHandler, http.MethodPost, "/api/settings", map[string]any{
		"provider": "anthropic",
		"providers.anthropic.api_key": "sk-live-secret",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, srv, srv.getSettingsHandler, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "anthropic", resp["provider"])
	require.Equal(t, redactedMarker, resp["providers.anthropic.api_key"])
}

func TestPostSettingsMergesIntoExistingFile(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, srv.postSettingsHandler, http.MethodPost, "/api/settings", map[string]any{"a": "1"})
	doRequest(t, srv, srv.postSettingsHandler, http.MethodPost, "/api/settings", map[string]any{"b": "2"})

	raw, err := config.LoadSettingsFile(srv.deps.DataDir)
	require.NoError(t, err)
	require.Equal(t, "1", raw["a"])
	require.Equal(t, "2", raw["b"])
}
