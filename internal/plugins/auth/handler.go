package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// Handler serves the authentication and user management endpoints.
type Handler struct {
	service Service
	guard   *Guard
	cookies *session.CookieWriter
}

// NewHandler creates an auth handler.
func NewHandler(service Service, guard *Guard, cookies *session.CookieWriter) *Handler {
	return &Handler{service: service, guard: guard, cookies: cookies}
}

// userView is the client-facing shape of an account on auth responses.
type userView struct {
	ID          string     `json:"id"`
	Phone       string     `json:"phone"`
	FullName    string     `json:"fullName"`
	Role        string     `json:"role"`
	IsApproved  bool       `json:"isApproved"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func viewOf(a *Account) userView {
	return userView{
		ID:          a.ID,
		Phone:       a.Phone,
		FullName:    a.FullName,
		Role:        a.Role,
		IsApproved:  a.IsApproved,
		LockedUntil: a.LockedUntil,
		LastLoginAt: a.LastLoginAt,
	}
}

// Login handles POST /api/auth/login. On success the session credentials
// travel back as cookies only.
func (h *Handler) Login(c echo.Context) error {
	var input LoginInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.Login(c.Request().Context(), audit.MetaFromRequest(c), input)
	if err != nil {
		return err
	}

	h.cookies.Set(c, result.Token, result.SessionID, result.UserID, result.Role)

	return c.JSON(http.StatusOK, map[string]any{
		"user": map[string]string{"id": result.UserID, "role": result.Role},
	})
}

// Register handles POST /api/auth/register. The new account cannot log in
// until an admin approves it.
func (h *Handler) Register(c echo.Context) error {
	var input RegisterInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	account, err := h.service.Register(c.Request().Context(), audit.MetaFromRequest(c), input)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"user":    viewOf(account),
		"message": "Registration received. An administrator must approve your account before you can log in.",
	})
}

// Logout handles POST /api/auth/logout. It works with stale or superseded
// cookies too: whatever identity can still be resolved gets its active
// session cleared, and the cookies are dropped either way.
func (h *Handler) Logout(c echo.Context) error {
	userID := ""
	if sess, err := h.guard.LightSession(session.ReadToken(c)); err == nil {
		userID = sess.UserID
	}

	if err := h.service.Logout(c.Request().Context(), audit.MetaFromRequest(c), userID); err != nil {
		return err
	}

	h.cookies.Clear(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out."})
}

// SessionInfo handles GET /api/auth/session, the light session probe the
// frontend polls for menu rendering. It never gates anything; the light
// path is store-free, so the role is only the legacy cookie's display hint.
func (h *Handler) SessionInfo(c echo.Context) error {
	sess, err := h.guard.LightSession(session.ReadToken(c))
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        sess.UserID,
		"role":          session.ReadLegacyRole(c),
	})
}

// Me handles GET /api/auth/me on the strict group.
func (h *Handler) Me(c echo.Context) error {
	account, err := h.service.CurrentAccount(c.Request().Context(), GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(account))
}

// ListUsers handles GET /api/admin/users.
func (h *Handler) ListUsers(c echo.Context) error {
	accounts, err := h.service.ListAccounts(c.Request().Context(), GetSession(c))
	if err != nil {
		return err
	}

	views := make([]userView, 0, len(accounts))
	for i := range accounts {
		views = append(views, viewOf(&accounts[i]))
	}

	return c.JSON(http.StatusOK, map[string]any{"users": views})
}

// Approve handles POST /api/admin/users/:id/approve.
func (h *Handler) Approve(c echo.Context) error {
	return h.setApproval(c, true)
}

// Revoke handles POST /api/admin/users/:id/revoke.
func (h *Handler) Revoke(c echo.Context) error {
	return h.setApproval(c, false)
}

func (h *Handler) setApproval(c echo.Context, approved bool) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("user id is required")
	}

	err := h.service.SetApproval(c.Request().Context(), GetSession(c), audit.MetaFromRequest(c), id, approved)
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// roleRequest is the body of a role update.
type roleRequest struct {
	Role string `json:"role"`
}

// UpdateRole handles PATCH /api/admin/users/:id/role.
func (h *Handler) UpdateRole(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("user id is required")
	}

	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.UpdateRole(c.Request().Context(), GetSession(c), audit.MetaFromRequest(c), id, req.Role)
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Unlock handles POST /api/admin/users/:id/unlock.
func (h *Handler) Unlock(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("user id is required")
	}

	err := h.service.Unlock(c.Request().Context(), GetSession(c), audit.MetaFromRequest(c), id)
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ForceLogout handles POST /api/admin/users/:id/force-logout.
func (h *Handler) ForceLogout(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("user id is required")
	}

	err := h.service.ForceLogout(c.Request().Context(), GetSession(c), audit.MetaFromRequest(c), id)
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
