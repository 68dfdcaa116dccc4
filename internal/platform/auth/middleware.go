package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// ClaimsKey holds the verified *Claims on the echo context.
	ClaimsKey = "auth_claims"
)

// FacilitatorOnly gates a route group on a valid facilitator token. The
// session id path parameter, when present, must match the token's session.
func FacilitatorOnly(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}
			claims, err := issuer.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Role != "facilitator" {
				return echo.NewHTTPError(http.StatusForbidden, "facilitator token required")
			}
			if id := c.Param("id"); id != "" && id != claims.SessionID {
				return echo.NewHTTPError(http.StatusForbidden, "token not valid for this session")
			}
			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom retrieves the verified claims set by FacilitatorOnly.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(ClaimsKey).(*Claims)
	return claims
}
