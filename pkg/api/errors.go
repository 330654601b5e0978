package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/orcherrors"
)

// mapCoreError maps core error kinds to HTTP error responses.
func mapCoreError(err error) *echo.HTTPError {
	kind := orcherrors.KindOf(err)
	switch kind {
	case orcherrors.KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case orcherrors.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case orcherrors.KindStoreUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable")
	case orcherrors.KindMCPError, orcherrors.KindMCPUnreachable:
		return echo.NewHTTPError(http.StatusBadGateway, "project backend unavailable")
	default:
		slog.Error("unexpected core error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
