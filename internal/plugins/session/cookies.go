package session

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Cookie names carried by the dashboard. The signed token is the source of
// truth; session_id pairs each token with the account's current login for
// single-session enforcement.
//
// session_user_id and session_role are a legacy shim kept for UX hints in
// the frontend (pre-signed-cookie deployments read them directly). They are
// NEVER trusted for authorization -- the audit logger reads session_user_id
// only as a last-resort actor hint. Scheduled for removal once the frontend
// stops reading them.
const (
	TokenCookie = "session_token"
	IDCookie    = "session_id"
	LegacyUser  = "session_user_id"
	LegacyRole  = "session_role"
)

// CookieWriter sets and clears the session cookie group with consistent
// attributes: http-only, SameSite=Lax, secure outside development.
type CookieWriter struct {
	maxAge time.Duration
	secure bool
}

// NewCookieWriter creates a writer. secure should be true in production
// (the dashboard is always served over TLS there).
func NewCookieWriter(maxAge time.Duration, secure bool) *CookieWriter {
	return &CookieWriter{maxAge: maxAge, secure: secure}
}

// Set writes the full cookie group for a fresh login: the signed token, the
// per-login session ID, and the legacy user/role shim.
func (w *CookieWriter) Set(c echo.Context, token, sessionID, userID, role string) {
	expires := time.Now().Add(w.maxAge)

	w.set(c, TokenCookie, token, expires, true)
	w.set(c, IDCookie, sessionID, expires, true)
	w.set(c, LegacyUser, userID, expires, true)
	w.set(c, LegacyRole, role, expires, true)
}

// Clear expires the whole cookie group, logging the browser out.
func (w *CookieWriter) Clear(c echo.Context) {
	expired := time.Unix(0, 0)
	for _, name := range []string{TokenCookie, IDCookie, LegacyUser, LegacyRole} {
		w.set(c, name, "", expired, true)
	}
}

func (w *CookieWriter) set(c echo.Context, name, value string, expires time.Time, httpOnly bool) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadToken returns the signed token cookie value, or "" if absent.
func ReadToken(c echo.Context) string { return readCookie(c, TokenCookie) }

// ReadSessionID returns the per-login session ID cookie value, or "".
func ReadSessionID(c echo.Context) string { return readCookie(c, IDCookie) }

// ReadLegacyUserID returns the deprecated plain user-id cookie value, or "".
// Only the audit logger should call this, and only as a last resort.
func ReadLegacyUserID(c echo.Context) string { return readCookie(c, LegacyUser) }

// ReadLegacyRole returns the deprecated plain role cookie value, or "".
// Display hint only; the strict guard re-reads the role from the store.
func ReadLegacyRole(c echo.Context) string { return readCookie(c, LegacyRole) }

func readCookie(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}
