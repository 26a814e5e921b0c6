package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the shape of every error the API returns.
type ErrorBody struct {
	Error   bool   `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func ErrorResponse(c echo.Context, status int, message, code, details string) error {
	return c.JSON(status, ErrorBody{
		Error:   true,
		Status:  status,
		Message: message,
		Code:    code,
		Details: details,
	})
}

// SuccessResponse writes {success:true, message} merged with extra fields.
func SuccessResponse(c echo.Context, status int, message string, extra map[string]interface{}) error {
	body := map[string]interface{}{
		"success": true,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	}
	return "INTERNAL_ERROR"
}

// HTTPErrorHandler renders errors that escaped a handler in the API error
// shape. Internal errors are logged and never echoed to the client.
func HTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Internal Server Error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprintf("%v", he.Message)
		} else {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		switch status {
		case http.StatusMethodNotAllowed:
			message = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			message = "Endpoint not found"
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = ErrorResponse(c, status, message, codeForStatus(status), "")
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to write error response")
		}
	}
}
