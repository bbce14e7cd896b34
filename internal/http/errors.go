package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrProjectLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, project.ErrStorageQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, project.ErrInvalidName),
		errors.Is(err, project.ErrInvalidSettings),
		errors.Is(err, project.ErrInvalidCoordinates),
		errors.Is(err, project.ErrInvalidDocument),
		errors.Is(err, project.ErrInvalidSortKey),
		errors.Is(err, transfer.ErrInvalidImportFormat),
		errors.Is(err, transfer.ErrEmptyImportSet),
		errors.Is(err, transfer.ErrInvalidProject):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// apiError converts err into an echo.HTTPError. Internal failures are logged
// and reported without detail.
func (s *Server) apiError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		return echo.NewHTTPError(status, http.StatusText(status)).SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}

// responseStatus is the status the client will see for a handler result.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}
