package audit

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the audit endpoints. The log feed is visible to any
// authenticated user; the stats endpoint is admin-only, so the caller
// passes the two pre-built route groups.
func RegisterRoutes(authed, admin *echo.Group, h *Handler) {
	authed.GET("/logs", h.List)
	admin.GET("/security/stats", h.Stats)
}
