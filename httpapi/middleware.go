package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"ecoride/auth"
)

const actorKey = "actor"

// TokenVerifier turns a bearer token into an authenticated actor.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Actor, error)
}

// Authenticate validates the Authorization header and stores the actor in
// the request context for handlers to pick up.
func Authenticate(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			actor, err := verifier.VerifyToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(actorKey, actor)
			return next(c)
		}
	}
}

// RequireStaff rejects non-staff actors. It assumes Authenticate ran first.
func RequireStaff() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !actorFrom(c).Role.IsStaff() {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "staff role required"})
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects everyone but admins.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actorFrom(c).Role != auth.RoleAdmin {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin role required"})
			}
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) auth.Actor {
	actor, _ := c.Get(actorKey).(auth.Actor)
	return actor
}
