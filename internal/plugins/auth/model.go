// Package auth implements account management and the login flow for the
// Gearstock dashboard: phone+PIN credentials, single-session enforcement,
// account lockout after repeated failures, and the request guard that
// every protected route sits behind.
package auth

import (
	"regexp"
	"time"
)

// Account roles. Staff can operate the dashboard; admins additionally
// manage users, IP rules, and the security pages.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// ValidRole reports whether s is a known role.
func ValidRole(s string) bool {
	return s == RoleAdmin || s == RoleStaff
}

// Account is one row of the profiles table.
type Account struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`

	// PinHash is the bcrypt hash of the login PIN. Never serialized.
	PinHash string `json:"-"`

	Role       string `json:"role"`
	IsApproved bool   `json:"isApproved"`

	// FailedLoginAttempts counts consecutive failures since the last
	// successful login. Reset on success and on admin unlock.
	FailedLoginAttempts int `json:"-"`

	// LockedUntil is set when FailedLoginAttempts crosses the lockout
	// threshold. Nil means not locked. Expiry is evaluated lazily at
	// login; nothing clears the column on schedule.
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`

	// ActiveSessionID is the session ID of the most recent login. A new
	// login overwrites it, invalidating every older session (last write
	// wins). Empty means logged out everywhere.
	ActiveSessionID string `json:"-"`

	// LastLoginAt is the instant of the most recent successful login,
	// nil for accounts that have never logged in.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// lockedAt reports whether the account is locked at the given instant,
// and how long the lock has left.
func (a *Account) lockedAt(now time.Time) (bool, time.Duration) {
	if a.LockedUntil == nil || !a.LockedUntil.After(now) {
		return false, 0
	}
	return true, a.LockedUntil.Sub(now)
}

// Session is the verified identity attached to a request after the guard
// has accepted its cookies.
type Session struct {
	UserID    string
	Role      string
	SessionID string
}

// IsAdmin reports whether the session belongs to an admin account.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// LoginInput is the login request body.
type LoginInput struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// RegisterInput is the registration request body.
type RegisterInput struct {
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`
	PIN      string `json:"pin"`
}

// LoginResult is returned on successful login. The handler turns Token and
// SessionID into cookies; they are never sent in the response body.
type LoginResult struct {
	UserID    string
	Role      string
	Token     string
	SessionID string
}

// phonePattern matches local mobile numbers: a leading zero and 8-9 more
// digits, as stored (no separators, no country prefix).
var phonePattern = regexp.MustCompile(`^0\d{8,9}$`)

// pinPattern matches a numeric PIN of 4 to 6 digits.
var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// ValidPhone reports whether s is a storable phone number.
func ValidPhone(s string) bool { return phonePattern.MatchString(s) }

// ValidPIN reports whether s is an acceptable PIN.
func ValidPIN(s string) bool { return pinPattern.MatchString(s) }
