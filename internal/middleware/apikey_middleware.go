// internal/middleware/apikey_middleware.go
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader carries the shared secret. The same name is accepted as a
// query parameter because browsers cannot set headers on websocket upgrades.
const APIKeyHeader = "apikey"

// APIKeyAuthMiddleware rejects requests that do not present key.
func APIKeyAuthMiddleware(key string) echo.MiddlewareFunc {
	expected := []byte(key)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(APIKeyHeader)
			if got == "" {
				got = c.QueryParam(APIKeyHeader)
			}
			if got == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing apikey")
			}
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid apikey")
			}
			return next(c)
		}
	}
}
