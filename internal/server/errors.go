package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"muster/internal/listener"
	"muster/internal/registry"
)

// errorResponse is the wire shape of every error.
type errorResponse struct {
	Error string `json:"error"`
}

// httpErrorHandler maps core sentinel errors to status codes in one
// place, so handlers just return what the registry gives them.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		message = fmt.Sprintf("%v", he.Message)
	case errors.Is(err, registry.ErrNotFound):
		code = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, listener.ErrEmptyWebhook),
		errors.Is(err, listener.ErrEmptyKey):
		code = http.StatusBadRequest
		message = err.Error()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
	}

	if writeErr := c.JSON(code, errorResponse{Error: message}); writeErr != nil {
		s.logger.Error("write error response", "error", writeErr)
	}
}
