package app

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/auth"
	"github.com/pchaisri/gearstock/internal/plugins/ipaccess"
)

// RegisterRoutes sets up all application routes. It builds the three route
// tiers -- public, authenticated, admin -- and delegates to each plugin's
// route registration function.
//
// This is the single place where all routes are aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check endpoint for container orchestration.
	e.GET("/healthz", func(c echo.Context) error {
		if err := a.DB.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- Route tiers ---

	// public: login flow, registration, session probe.
	public := e.Group("/api")

	// authed: strict session verification on every request.
	authed := e.Group("/api", a.guard.RequireAuth())

	// admin: strict verification plus a DB-backed role check.
	admin := e.Group("/api/admin", a.guard.RequireAuth(), a.guard.RequireAdmin())

	// --- Plugin routes ---

	auth.RegisterRoutes(public, authed, admin, a.authHandler)
	audit.RegisterRoutes(authed, admin, a.auditHandler)
	ipaccess.RegisterRoutes(admin, a.ipRulesHandler)
}
