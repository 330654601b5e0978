package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
)

// SessionInfoResponse is the HTTP response for GET /sessions/:id/info.
type SessionInfoResponse struct {
	SessionID         string                    `json:"session_id"`
	CreatedAt         string                    `json:"created_at"`
	LastActivity      string                    `json:"last_activity"`
	MessageCount      int                       `json:"message_count"`
	ConversationState session.ConversationState `json:"conversation_state"`
	ProjectState      session.ProjectState      `json:"project_state"`
	ActiveConnections int                       `json:"active_connections"`
}

// sessionInfoHandler handles GET /api/v1/sessions/:id/info.
func (s *Server) sessionInfoHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, ok, err := s.store.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapCoreError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	summary, err := s.tracker.Summary(c.Request().Context(), sessionID)
	if err != nil {
		return mapCoreError(err)
	}

	resp := &SessionInfoResponse{
		SessionID:         sessionID,
		CreatedAt:         sess.CreatedAt.Format(time.RFC3339Nano),
		LastActivity:      sess.LastActivity.Format(time.RFC3339Nano),
		MessageCount:      summary.MessageCount,
		ConversationState: summary.ConversationState,
		ProjectState:      summary.ProjectState,
	}
	if s.hub != nil {
		resp.ActiveConnections = s.hub.ActiveConnections(sessionID)
	}

	return c.JSON(http.StatusOK, resp)
}

// sessionContextHandler handles GET /api/v1/sessions/:id/context.
func (s *Server) sessionContextHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	includeHistory := c.QueryParam("include_history") == "true"

	rc, err := s.ctxMgr.RelevantContext(c.Request().Context(), sessionID, includeHistory)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, rc)
}

// SessionHistoryResponse is the HTTP response for GET /sessions/:id/history.
type SessionHistoryResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []session.Message `json:"messages"`
}

// sessionHistoryHandler handles GET /api/v1/sessions/:id/history.
func (s *Server) sessionHistoryHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		limit = n
	}

	messages, err := s.store.History(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, &SessionHistoryResponse{
		SessionID: sessionID,
		Messages:  messages,
	})
}

// UpdateStateRequest is the HTTP request body for POST /sessions/:id/state,
// the admin override for either state machine.
type UpdateStateRequest struct {
	ConversationState string `json:"conversation_state,omitempty"`
	ProjectState      string `json:"project_state,omitempty"`
}

var validConversationStates = map[session.ConversationState]bool{
	session.StateInitial:               true,
	session.StateGatheringRequirements: true,
	session.StateConfirmingDetails:     true,
	session.StateProcessing:            true,
	session.StateAwaitingFeedback:      true,
	session.StateCompleted:             true,
	session.StateError:                 true,
}

var validProjectStates = map[session.ProjectState]bool{
	session.ProjectNotStarted: true,
	session.ProjectPlanning:   true,
	session.ProjectInProgress: true,
	session.ProjectModifying:  true,
	session.ProjectCompleted:  true,
	session.ProjectFailed:     true,
}

// updateStateHandler handles POST /api/v1/sessions/:id/state. A transition
// the state machine rejects returns 400 and leaves state unchanged; no
// events are emitted.
func (s *Server) updateStateHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req UpdateStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConversationState == "" && req.ProjectState == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_state or project_state is required")
	}

	_, ok, err := s.store.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapCoreError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	if req.ConversationState != "" {
		target := session.ConversationState(req.ConversationState)
		if !validConversationStates[target] {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown conversation_state: "+req.ConversationState)
		}
		ok, err := s.tracker.TransitionConversation(c.Request().Context(), sessionID, target)
		if err != nil {
			return mapCoreError(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation state transition to "+req.ConversationState)
		}
	}

	if req.ProjectState != "" {
		target := session.ProjectState(req.ProjectState)
		if !validProjectStates[target] {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown project_state: "+req.ProjectState)
		}
		ok, err := s.tracker.UpdateProject(c.Request().Context(), sessionID, target, nil)
		if err != nil {
			return mapCoreError(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid project state transition to "+req.ProjectState)
		}
	}

	summary, err := s.tracker.Summary(c.Request().Context(), sessionID)
	if err != nil {
		return mapCoreError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.store.Delete(c.Request().Context(), sessionID); err != nil {
		return mapCoreError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ActiveSessionsResponse is the HTTP response for GET /sessions/active.
type ActiveSessionsResponse struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// activeSessionsHandler handles GET /api/v1/sessions/active.
func (s *Server) activeSessionsHandler(c *echo.Context) error {
	ids, err := s.store.ListActive(c.Request().Context())
	if err != nil {
		return mapCoreError(err)
	}
	return c.JSON(http.StatusOK, &ActiveSessionsResponse{
		Sessions: ids,
		Count:    len(ids),
	})
}
