package ipaccess

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the IP rule endpoints on the admin group.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/security/ip-rules", h.List)
	admin.POST("/security/ip-rules", h.Create)
	admin.DELETE("/security/ip-rules/:id", h.Delete)
	admin.PATCH("/security/ip-rules/:id/toggle", h.Toggle)
}
