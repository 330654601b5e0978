// Package api provides the HTTP and WebSocket surface of the conversation
// orchestrator: the one-shot chat endpoint, session inspection and admin
// endpoints, health probes, and the WebSocket upgrade path into the hub.
// Required services are constructor-injected; late-bound ones are wired via
// Set* methods, with a ValidateWiring pass that catches wiring gaps at
// startup instead of as 503s at request time.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/coordinator"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/wshub"
)

// ReadinessCheck probes one external dependency for /health/ready.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store   session.Store
	ctxMgr  *convcontext.Manager
	tracker *convstate.Tracker

	coordinator *coordinator.Coordinator // nil until set
	hub         *wshub.Hub               // nil until set

	readiness []namedCheck
}

// NewServer creates the API server with Echo v5. corsOrigins is the
// CORS_ORIGINS allowlist; "*" permits any origin.
func NewServer(
	store session.Store,
	ctxMgr *convcontext.Manager,
	tracker *convstate.Tracker,
	corsOrigins []string,
) *Server {
	e := echo.New()

	s := &Server{
		echo:    e,
		store:   store,
		ctxMgr:  ctxMgr,
		tracker: tracker,
	}

	s.setupRoutes(corsOrigins)
	return s
}

// SetCoordinator sets the Conversation Coordinator for the chat endpoint.
func (s *Server) SetCoordinator(c *coordinator.Coordinator) {
	s.coordinator = c
}

// SetHub sets the WebSocket Hub for the realtime upgrade endpoint.
func (s *Server) SetHub(h *wshub.Hub) {
	s.hub = h
}

// AddReadinessCheck registers a dependency probe run by /health and
// /health/ready.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.readiness = append(s.readiness, namedCheck{name: name, check: check})
}

// ValidateWiring checks that all required services have been wired via their
// Set* methods. Call this after all Set* calls and before Start.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.coordinator == nil {
		errs = append(errs, fmt.Errorf("coordinator not set (call SetCoordinator)"))
	}
	if s.hub == nil {
		errs = append(errs, fmt.Errorf("hub not set (call SetHub)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes(corsOrigins []string) {
	// Chat messages are short natural-language text; 1 MB rejects runaway
	// payloads at the HTTP read level before deserialization.
	s.echo.Use(middleware.BodyLimit(1024 * 1024))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins,
	}))

	// Health probes.
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/health/ready", s.readyHandler)
	s.echo.GET("/health/live", s.liveHandler)

	// API v1
	v1 := s.echo.Group("/api/v1")
	v1.POST("/conversation/chat", s.chatHandler)

	// Static paths before :id param.
	v1.GET("/sessions/active", s.activeSessionsHandler)

	v1.GET("/sessions/:id/info", s.sessionInfoHandler)
	v1.GET("/sessions/:id/context", s.sessionContextHandler)
	v1.GET("/sessions/:id/history", s.sessionHistoryHandler)
	v1.POST("/sessions/:id/state", s.updateStateHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)

	// WebSocket endpoint for real-time per-session streaming.
	v1.GET("/realtime/ws/:session_id", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
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
