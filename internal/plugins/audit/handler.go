package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves the activity-log feed and security stats. Handlers are
// thin: parse the request, call the service, shape the JSON response.
type Handler struct {
	service Service
}

// NewHandler creates an audit handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns a page of the activity-log feed (GET /api/logs).
// Query params: page (1-indexed), action (optional catalog filter).
func (h *Handler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	actionType := c.QueryParam("action")

	events, total, err := h.service.ListEvents(c.Request().Context(), actionType, page)
	if err != nil {
		return err
	}

	if events == nil {
		events = []Event{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events":  events,
		"total":   total,
		"page":    max(page, 1),
		"perPage": perPage,
	})
}

// Stats returns the security dashboard aggregates
// (GET /api/admin/security/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
