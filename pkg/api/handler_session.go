package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sessionmemory/worker/pkg/queue"
	"github.com/sessionmemory/worker/pkg/scrub"
)

// --- Request/response types ---

// InitRequest is the body of POST /api/sessions/init.
type InitRequest struct {
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	Prompt           string `json:"prompt"`
}

// InitResponse is returned by POST /api/sessions/init.
type InitResponse struct {
	SessionID    int64  `json:"session_id"`
	PromptNumber int    `json:"prompt_number"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ObservationRequest is the body of POST /api/sessions/observations.
type ObservationRequest struct {
	ContentSessionID string `json:"content_session_id"`
	ToolName         string `json:"tool_name"`
	ToolInput        string `json:"tool_input"`
	ToolResponse     string `json:"tool_response"`
	Cwd              string `json:"cwd"`
}

// SummarizeRequest is the body of POST /api/sessions/summarize.
type SummarizeRequest struct {
	ContentSessionID     string `json:"content_session_id"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// CompleteRequest is the body of POST /api/sessions/complete.
type CompleteRequest struct {
	ContentSessionID string `json:"content_session_id"`
}

// SkippableResponse is returned by the observation and summarize
// endpoints, both of which may skip enqueueing.
type SkippableResponse struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// --- Handlers ---

// initSessionHandler handles POST /api/sessions/init: registers or looks
// up the session, records the user prompt (unless it scrubs to nothing),
// and starts the session's processor loop if one isn't already running.
func (s *Server) initSessionHandler(c *echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ContentSessionID == "" || req.Project == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_session_id and project are required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Store.CreateOrGetSession(ctx, req.ContentSessionID, req.Project)
	if err != nil {
		return mapStoreError(err)
	}

	scrubbed := scrub.Strip(req.Prompt)
	if scrubbed.Skipped {
		return c.JSON(http.StatusOK, InitResponse{
			SessionID:    sess.SessionID,
			PromptNumber: sess.LastPromptNumber,
			Skipped:      true,
			Reason:       "private",
		})
	}

	prompt, err := s.deps.Store.SaveUserPrompt(ctx, req.ContentSessionID, scrubbed.Text)
	if err != nil {
		return mapStoreError(err)
	}

	s.deps.Sessions.EnsureStarted(ctx, sess.SessionID, "session_init")

	return c.JSON(http.StatusOK, InitResponse{
		SessionID:    sess.SessionID,
		PromptNumber: prompt.PromptNumber,
	})
}

// excludedObservationTools are never worth an LLM round trip; they are
// silently acknowledged without being enqueued.
var excludedObservationTools = map[string]bool{
	"TodoWrite": true,
}

// metaFileMarkers flags tool input touching the worker's own
// persisted state, which would
// otherwise cause the worker to observe itself.
var metaFileMarkers = []string{"settings.json", "worker.pid"}

func isMetaFileWrite(toolInput string) bool {
	for _, marker := range metaFileMarkers {
		if strings.Contains(toolInput, marker) {
			return true
		}
	}
	return false
}

// enqueueObservationHandler handles POST /api/sessions/observations.
func (s *Server) enqueueObservationHandler(c *echo.Context) error {
	var req ObservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ContentSessionID == "" || req.ToolName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_session_id and tool_name are required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		return mapStoreError(err)
	}

	if excludedObservationTools[req.ToolName] || isMetaFileWrite(req.ToolInput) {
		return c.JSON(http.StatusOK, SkippableResponse{Skipped: true, Reason: "excluded_tool"})
	}

	input := scrub.Strip(req.ToolInput)
	output := scrub.Strip(req.ToolResponse)
	if input.Skipped && output.Skipped {
		return c.JSON(http.StatusOK, SkippableResponse{Skipped: true, Reason: "private"})
	}

	_, err = s.deps.Queue.Enqueue(ctx, sess.SessionID, req.ContentSessionID, req.Cwd, queue.ObservationPayload{
		Kind:         queue.KindObservation,
		ToolName:     req.ToolName,
		ToolInput:    input.Text,
		ToolResponse: output.Text,
	})
	if err != nil {
		return mapStoreError(err)
	}

	s.deps.Sessions.EnsureStarted(ctx, sess.SessionID, "observation_enqueued")

	return c.JSON(http.StatusAccepted, SkippableResponse{})
}

// enqueueSummarizeHandler handles POST /api/sessions/summarize.
func (s *Server) enqueueSummarizeHandler(c *echo.Context) error {
	var req SummarizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ContentSessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_session_id is required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		return mapStoreError(err)
	}

	message := scrub.Strip(req.LastAssistantMessage)
	if message.Skipped {
		return c.JSON(http.StatusOK, SkippableResponse{Skipped: true, Reason: "private"})
	}

	_, err = s.deps.Queue.Enqueue(ctx, sess.SessionID, req.ContentSessionID, "", queue.SummarizePayload{
		Kind:                 queue.KindSummarize,
		LastAssistantMessage: message.Text,
	})
	if err != nil {
		return mapStoreError(err)
	}

	s.deps.Sessions.EnsureStarted(ctx, sess.SessionID, "summarize_enqueued")

	return c.JSON(http.StatusAccepted, SkippableResponse{})
}

// completeSessionHandler handles POST /api/sessions/complete: removes the
// session from the active set. The record store's history is
// untouched; only the in-memory registry entry and its processor loop end.
func (s *Server) completeSessionHandler(c *echo.Context) error {
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ContentSessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_session_id is required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Store.GetSessionByContentID(ctx, req.ContentSessionID)
	if err != nil {
		return mapStoreError(err)
	}

	s.deps.Sessions.DeleteSession(ctx, sess.SessionID, nil)
	return c.NoContent(http.StatusNoContent)
}
