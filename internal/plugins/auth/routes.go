package auth

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the auth endpoints. public carries the login flow,
// authed the strict self-service routes, admin the user management pages.
func RegisterRoutes(public, authed, admin *echo.Group, h *Handler) {
	public.POST("/auth/login", h.Login)
	public.POST("/auth/register", h.Register)
	public.POST("/auth/logout", h.Logout)
	public.GET("/auth/session", h.SessionInfo)

	authed.GET("/auth/me", h.Me)

	admin.GET("/users", h.ListUsers)
	admin.POST("/users/:id/approve", h.Approve)
	admin.POST("/users/:id/revoke", h.Revoke)
	admin.POST("/users/:id/unlock", h.Unlock)
	admin.POST("/users/:id/force-logout", h.ForceLogout)
	admin.PATCH("/users/:id/role", h.UpdateRole)
}
