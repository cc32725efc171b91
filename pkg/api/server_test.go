package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthHandlerReportsOK(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.healthHandler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestVersionHandlerReturnsBuildInfo(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.versionHandler, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Version)
}

func TestStatusHandlerReflectsConfiguredProvider(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.statusHandler, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "anthropic", resp.Provider)
	require.Equal(t, 0, resp.ActiveSessions)
}

func TestListModelsHandlerRequiresProviderParam(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.listModelsHandler, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
