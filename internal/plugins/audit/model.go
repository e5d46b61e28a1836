// Package audit provides the immutable security and business event trail
// for Gearstock. Every security-relevant action (logins, lockouts, IP rule
// changes) and every dashboard mutation (item/kit CRUD emitted by the
// out-of-scope screens) is captured as an Event and persisted to the
// activity_logs table. Rows are never updated or deleted by normal
// operation -- immutability is the integrity guarantee.
//
// Recording is fire-and-forget by contract: a failed write is logged to the
// diagnostic channel and swallowed so it can never fail the caller's
// primary operation.
package audit

import "time"

// --- Action catalog ---
// The catalog is closed: call sites emit only these constants. The Details
// payload shape varies per action and is validated, if at all, at the call
// site that emits it.

const (
	// Authentication actions.
	ActionLogin          = "LOGIN"
	ActionLoginFailed    = "LOGIN_FAILED"
	ActionLogout         = "LOGOUT"
	ActionRegister       = "REGISTER"
	ActionSessionTimeout = "SESSION_TIMEOUT"

	// Lockout and access-control actions.
	ActionAccountLocked   = "ACCOUNT_LOCKED"
	ActionAccountUnlocked = "ACCOUNT_UNLOCKED"
	ActionIPBlockedLogin  = "IP_BLOCKED_LOGIN"
	ActionIPRuleCreated   = "IP_RULE_CREATED"
	ActionIPRuleDeleted   = "IP_RULE_DELETED"
	ActionIPRuleToggled   = "IP_RULE_TOGGLED"

	// Account administration actions.
	ActionApproveUser = "APPROVE_USER"
	ActionRevokeUser  = "REVOKE_USER"
	ActionUpdateRole  = "UPDATE_ROLE"
	ActionForceLogout = "FORCE_LOGOUT"

	// Business actions emitted by the inventory/kit screens. The screens
	// themselves live outside this service; they call the same recorder.
	ActionCreateItem = "CREATE_ITEM"
	ActionUpdateItem = "UPDATE_ITEM"
	ActionDeleteItem = "DELETE_ITEM"
	ActionCreateKit  = "CREATE_KIT"
	ActionUpdateKit  = "UPDATE_KIT"
	ActionDeleteKit  = "DELETE_KIT"
)

// knownActions guards the closed catalog at the recording boundary.
var knownActions = map[string]bool{
	ActionLogin: true, ActionLoginFailed: true, ActionLogout: true,
	ActionRegister: true, ActionSessionTimeout: true,
	ActionAccountLocked: true, ActionAccountUnlocked: true,
	ActionIPBlockedLogin: true, ActionIPRuleCreated: true,
	ActionIPRuleDeleted: true, ActionIPRuleToggled: true,
	ActionApproveUser: true, ActionRevokeUser: true,
	ActionUpdateRole: true, ActionForceLogout: true,
	ActionCreateItem: true, ActionUpdateItem: true, ActionDeleteItem: true,
	ActionCreateKit: true, ActionUpdateKit: true, ActionDeleteKit: true,
}

// KnownAction reports whether action is part of the closed catalog.
func KnownAction(action string) bool { return knownActions[action] }

// Event is a single recorded entry in the audit trail.
type Event struct {
	ID         int64          `json:"id"`
	ActionType string         `json:"actionType"`
	ActorID    string         `json:"actorId,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ipAddress"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Location   string         `json:"location,omitempty"`
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`

	// ActorName is joined from the profiles table for the log feed.
	// Not stored in activity_logs -- populated at query time.
	ActorName string `json:"actorName,omitempty"`
}

// RequestMeta carries the HTTP-request-derived fields the recorder captures
// with every event. Handlers build it once per request from headers and
// cookies; services pass it through untouched so they stay transport-free.
type RequestMeta struct {
	// IP is the client address: the first entry of X-Forwarded-For when
	// present, otherwise the direct peer.
	IP string

	// UserAgent is the raw User-Agent header.
	UserAgent string

	// Location is a best-effort "City, Country" string derived from
	// edge/CDN geo headers. Never the result of a network lookup.
	Location string

	// Latitude/Longitude are optional CDN-provided coordinates.
	Latitude  *float64
	Longitude *float64

	// Token is the raw session token cookie, used to resolve the actor
	// when no override is given.
	Token string

	// LegacyUserID is the deprecated plain user-id cookie, consulted only
	// as the last-resort actor hint.
	LegacyUserID string
}

// Stats aggregates the security dashboard numbers.
type Stats struct {
	TotalEvents      int `json:"totalEvents"`
	FailedLogins24h  int `json:"failedLogins24h"`
	BlockedLogins24h int `json:"blockedLogins24h"`
	LockedAccounts   int `json:"lockedAccounts"`
	UniqueIPs24h     int `json:"uniqueIps24h"`
}
