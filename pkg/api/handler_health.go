package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one dependency's probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health and GET /health/ready.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks,omitempty"`
}

// runChecks probes every registered readiness check with a bounded timeout.
func (s *Server) runChecks(ctx context.Context) (string, map[string]HealthCheck) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck, len(s.readiness))
	for _, nc := range s.readiness {
		if err := nc.check(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks[nc.name] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
			continue
		}
		checks[nc.name] = HealthCheck{Status: healthStatusHealthy}
	}
	return status, checks
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	status, checks := s.runChecks(c.Request().Context())

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}

// readyHandler handles GET /health/ready: ready only when every dependency
// probe passes.
func (s *Server) readyHandler(c *echo.Context) error {
	status, checks := s.runChecks(c.Request().Context())

	if status == healthStatusUnhealthy {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "not_ready", Checks: checks})
	}
	return c.JSON(http.StatusOK, &HealthResponse{Status: "ready", Checks: checks})
}

// liveHandler handles GET /health/live: the process is up.
func (s *Server) liveHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "alive"})
}
