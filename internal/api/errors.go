package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"waveq/internal/logging"
	"waveq/internal/services"
)

// StatusFor maps a services error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return services.KindValidation
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return services.KindNotFound
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return ""
	}
}

// errorHandler renders handler errors as ErrorResponse bodies.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
	)
	if errors.As(err, &he) {
		status = he.Code
		body = ErrorResponse{Error: fmt.Sprint(he.Message), Kind: kindForStatus(he.Code)}
		if he.Internal != nil && status == http.StatusBadRequest {
			body.Error = fmt.Sprintf("%v: %v", he.Message, he.Internal)
		}
	} else {
		status = StatusFor(err)
		body = ErrorResponse{Error: err.Error(), Kind: services.KindOf(err)}
	}

	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request().Context(), s.logger), "api request failed", "api_error",
			logging.String("method", c.Request().Method),
			logging.String("path", c.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check daemon logs and task store access"),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
