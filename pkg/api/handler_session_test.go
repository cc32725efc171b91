package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/provider"
	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/session"
	"github.com/sessionmemory/worker/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sessions := session.New(s, 0, nil)
	q := queue.New(s, sessions)

	deps := Deps{
		Store:     s,
		Queue:     q,
		Sessions:  sessions,
		Providers: map[config.ProviderKind]provider.Client{},
		DataDir:   t.TempDir(),
	}
	return NewServer(deps, &config.Config{Provider: config.ProviderAnthropic, Providers: map[config.ProviderKind]config.ProviderConfig{
		config.ProviderAnthropic: {APIKey: "k"},
	}})
}

func doRequest(t *testing.T, srv *Server, handler echo.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)
	require.NoError(t, handler(c))
	return rec
}

func TestInitSessionHandlerCreatesSessionAndSavesPrompt(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.initSessionHandler, http.MethodPost, "/api/sessions/init", InitRequest{
		ContentSessionID: "content-1",
		Project:          "proj",
		Prompt:           "build a feature",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Skipped)
	require.Equal(t, 1, resp.PromptNumber)
	require.NotZero(t, resp.SessionID)

	_, ok := srv.deps.Sessions.Snapshot(resp.SessionID)
	require.True(t, ok)
}

func TestInitSessionHandlerSkipsFullyPrivatePrompt(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, srv.initSessionHandler, http.MethodPost, "/api/sessions/init", InitRequest{
		ContentSessionID: "content-2",
		Project:          "proj",
		Prompt:           "<private>secret</private>",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Skipped)
	require.Equal(t, "private", resp.Reason)
}

func TestEnqueueObservationHandlerSkipsExcludedTool(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, srv.initSessionHandler, http.MethodPost, "/api/sessions/init", InitRequest{
		ContentSessionID: "content-3", Project: "proj", Prompt: "go",
	})

	rec := doRequest(t, srv, srv.enqueueObservationHandler, http.MethodPost, "/api/sessions/observations", ObservationRequest{
		ContentSessionID: "content-3",
		ToolName:         "TodoWrite",
		ToolInput:        "irrelevant",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SkippableResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Skipped)
	require.Equal(t, "excluded_tool", resp.Reason)
}

func TestEnqueueObservationHandlerEnqueuesAndStartsSession(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, srv.initSessionHandler, http.MethodPost, "/api/sessions/init", InitRequest{
		ContentSessionID: "content-4", Project: "proj", Prompt: "go",
	})

	rec := doRequest(t, srv, srv.enqueueObservationHandler, http.MethodPost, "/api/sessions/observations", ObservationRequest{
		ContentSessionID: "content-4",
		ToolName:         "Read",
		ToolInput:        "file.go",
		Cwd:              "/tmp/proj",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCompleteSessionHandlerRemovesSession(t *testing.T) {
	srv := newTestServer(t)
	initRec := doRequest(t, srv, srv.initSessionHandler, http.MethodPost, "/api/sessions/init", InitRequest{
		ContentSessionID: "content-5", Project: "proj", Prompt: "go",
	})
	var initResp InitResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &initResp))

	rec := doRequest(t, srv, srv.completeSessionHandler, http.MethodPost, "/api/sessions/complete", CompleteRequest{
		ContentSessionID: "content-5",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := srv.deps.Sessions.Snapshot(initResp.SessionID)
	require.False(t, ok)
}
