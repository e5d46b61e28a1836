// Package ipaccess evaluates allow/block rules for client network
// addresses at login time and manages the rule table for the security
// dashboard.
//
// Enforcement is deliberately asymmetric: any matching active, non-expired
// Block rule denies the login, regardless of coexisting Allow rules for the
// same address. Allow rules are advisory audit-trail records, not an
// enforcement allowlist -- an address with no rule at all is still allowed
// (default-open).
package ipaccess

import (
	"regexp"
	"time"
)

// Rule types.
const (
	RuleAllow = "allow"
	RuleBlock = "block"
)

// Rule is one allow/block directive for a network address.
type Rule struct {
	ID        string     `json:"id"`
	IPAddress string     `json:"ipAddress"`
	RuleType  string     `json:"ruleType"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`

	// CreatorName is joined from profiles for display. Not stored.
	CreatorName string `json:"creatorName,omitempty"`
}

// expired reports whether the rule has lapsed at the given instant.
// A nil ExpiresAt means the rule is permanent.
func (r Rule) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Decision is the outcome of evaluating an address against the rule table.
type Decision int

const (
	// DecisionNoRule means no active rule matched; the address is allowed
	// by default.
	DecisionNoRule Decision = iota

	// DecisionAllowed means an active Allow rule matched (advisory only;
	// behaves identically to NoRule at the login gate).
	DecisionAllowed

	// DecisionBlocked means an active, non-expired Block rule matched.
	DecisionBlocked
)

// String implements fmt.Stringer for logging.
func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionBlocked:
		return "blocked"
	default:
		return "no_rule"
	}
}

// CreateRuleInput is the validated input for creating a rule.
type CreateRuleInput struct {
	IPAddress string     `json:"ipAddress"`
	RuleType  string     `json:"ruleType"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// addressPattern accepts IPv4 dotted-quads and the general hex/colon form
// of IPv6-like input. Deliberately permissive on the IPv6 side; the goal is
// rejecting garbage, not full RFC validation.
var addressPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$|^([0-9a-fA-F:]+)$`)

// ValidAddress reports whether s looks like a storable network address.
func ValidAddress(s string) bool {
	return s != "" && addressPattern.MatchString(s)
}
