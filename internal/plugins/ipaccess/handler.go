package ipaccess

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/auth"
)

// Handler serves the IP rule management endpoints on the security
// dashboard. All routes sit behind the admin middleware, but the service
// re-validates the role anyway -- the route group is convenience, not the
// security boundary.
type Handler struct {
	service Service
}

// NewHandler creates an IP access handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns all rules (GET /api/admin/security/ip-rules).
func (h *Handler) List(c echo.Context) error {
	rules, err := h.service.ListRules(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	if rules == nil {
		rules = []Rule{}
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

// Create persists a new rule (POST /api/admin/security/ip-rules).
func (h *Handler) Create(c echo.Context) error {
	var input CreateRuleInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	rule, err := h.service.CreateRule(c.Request().Context(), actorFrom(c), audit.MetaFromRequest(c), input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, rule)
}

// Delete removes a rule (DELETE /api/admin/security/ip-rules/:id).
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("rule id is required")
	}

	if err := h.service.DeleteRule(c.Request().Context(), actorFrom(c), audit.MetaFromRequest(c), id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// toggleRequest is the body of a toggle call.
type toggleRequest struct {
	IsActive bool `json:"isActive"`
}

// Toggle flips a rule's active flag (PATCH /api/admin/security/ip-rules/:id).
func (h *Handler) Toggle(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("rule id is required")
	}

	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.ToggleRule(c.Request().Context(), actorFrom(c), audit.MetaFromRequest(c), id, req.IsActive); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// actorFrom converts the authenticated session into a service actor.
// An unauthenticated request yields a zero Actor, which every service
// method rejects.
func actorFrom(c echo.Context) Actor {
	sess := auth.GetSession(c)
	if sess == nil {
		return Actor{}
	}
	return Actor{ID: sess.UserID, Role: sess.Role}
}
