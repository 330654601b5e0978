package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// ChatRequest is the HTTP request body for POST /conversation/chat.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// chatHandler handles POST /api/v1/conversation/chat: one-shot chat through
// the Conversation Coordinator.
func (s *Server) chatHandler(c *echo.Context) error {
	if s.coordinator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation service is not available")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	// Sessions are created lazily on first message; a missing session_id
	// starts a fresh one.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp, err := s.coordinator.Handle(c.Request().Context(), sessionID, req.Message, req.Context)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, resp)
}
