package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every error answered by the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSONErrorHandler creates a custom error handler for Echo that answers JSON
func JSONErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := ""

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		if message == "" || code == http.StatusInternalServerError {
			message = defaultMessage(code)
		}

		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		}
		if he != nil && he.Internal != nil {
			fields = append(fields, zap.NamedError("internal", he.Internal))
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		body := ErrorResponse{Error: http.StatusText(code), Message: message}
		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			logger.Error("failed to write error response", zap.Error(writeErr))
		}
	}
}

func defaultMessage(code int) string {
	switch code {
	case http.StatusNotFound:
		return "The resource you're looking for doesn't exist."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusUnauthorized:
		return "Please log in to continue."
	case http.StatusBadRequest:
		return "The request could not be processed."
	case http.StatusConflict:
		return "The request conflicts with the current state."
	}
	return "Something went wrong. Please try again later."
}
