package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// sessionContextKey is where the verified session lives on the echo
// context. Only this package writes it.
const sessionContextKey = "gearstock.session"

// RequireAuth is the strict authentication middleware. It verifies the
// session cookies and attaches the resulting Session to the context.
func (g *Guard) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, err := g.VerifySession(
				c.Request().Context(),
				session.ReadToken(c),
				session.ReadSessionID(c),
				audit.MetaFromRequest(c),
			)
			if err != nil {
				return err
			}

			c.Set(sessionContextKey, sess)
			return next(c)
		}
	}
}

// RequireAdmin gates a route group to admin accounts. It must run after
// RequireAuth; the role checked here came from the database during strict
// verification, never from a cookie.
func (g *Guard) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !GetSession(c).IsAdmin() {
				return apperror.NewForbidden("admin access required")
			}
			return next(c)
		}
	}
}

// GetSession returns the verified session for the request, or nil when the
// request did not pass RequireAuth.
func GetSession(c echo.Context) *Session {
	sess, _ := c.Get(sessionContextKey).(*Session)
	return sess
}

// GetUserID returns the authenticated user's ID, or "".
func GetUserID(c echo.Context) string {
	if sess := GetSession(c); sess != nil {
		return sess.UserID
	}
	return ""
}
