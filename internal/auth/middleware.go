package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const claimsContextKey = "auth.service_claims"

// Middleware rejects requests without a valid, unexpired bearer token before
// any handler logic runs. Verified claims are stored on the echo context.
func Middleware(manager *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"kind":    "UNAUTHORIZED",
					"message": "missing bearer token",
				})
			}

			claims, err := manager.Verify(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"kind":    "UNAUTHORIZED",
					"message": "invalid or expired token",
				})
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

// ClaimsFromContext returns the claims stored by Middleware, or nil when the
// request was not authenticated.
func ClaimsFromContext(c echo.Context) *ServiceClaims {
	claims, _ := c.Get(claimsContextKey).(*ServiceClaims)
	return claims
}
