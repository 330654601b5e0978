package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /api/v1/realtime/ws/:session_id to a WebSocket and
// hands the connection to the Hub, which blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin allowlisting is handled by the CORS middleware for HTTP;
		// WS connections accept any origin, matching the CORS_ORIGINS="*"
		// default.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.hub.HandleConnection(c.Request().Context(), conn, sessionID)
	return nil
}
