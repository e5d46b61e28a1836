package auth

import (
	"context"
	"strings"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// Guard verifies request credentials. It has two strengths:
//
//   - VerifySession is the strict path every protected route uses: valid
//     token, existing approved account, and the cookie's session ID must
//     match the account's active one (a newer login elsewhere invalidates
//     this session).
//   - LightSession checks only the token's signature and age, with no
//     store read at all. It serves read-only hints (is someone plausibly
//     logged in) and so does not see approval revocation or single-session
//     supersession; that consistency window is the point of the split.
//
// Neither path trusts the legacy user/role cookies.
type Guard struct {
	codec   *session.Codec
	repo    Repository
	auditor audit.Service
}

// NewGuard creates a guard over the given codec and account store.
func NewGuard(codec *session.Codec, repo Repository, auditor audit.Service) *Guard {
	return &Guard{codec: codec, repo: repo, auditor: auditor}
}

// VerifySession runs the strict checks and returns the request's session.
// All failures are apperror values suitable for returning straight to the
// client; none of them reveal which check tripped beyond the status code.
func (g *Guard) VerifySession(ctx context.Context, token, sessionID string, meta audit.RequestMeta) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	identity, err := g.codec.Verify(token)
	if err != nil {
		if err == session.ErrExpired {
			// The signature checked out, so the user ID in the token is
			// trustworthy enough for the audit trail.
			g.auditor.Record(ctx, meta, audit.ActionSessionTimeout, nil, "", tokenUserHint(token))
			return nil, apperror.NewUnauthorized("session expired")
		}
		return nil, apperror.NewUnauthorized("invalid session")
	}

	account, err := g.repo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid session")
	}

	if !account.IsApproved {
		return nil, apperror.NewForbidden("account pending approval")
	}

	if sessionID == "" || account.ActiveSessionID == "" || account.ActiveSessionID != sessionID {
		// A newer login elsewhere replaced this session, or the account
		// was force-logged-out.
		return nil, apperror.NewUnauthorized("session superseded")
	}

	return &Session{UserID: account.ID, Role: account.Role, SessionID: sessionID}, nil
}

// LightSession verifies the token's signature and age and nothing else.
// It never reads the account store, so the identity it returns may belong
// to a revoked account or a superseded login. Never use it to authorize
// anything; the Role field is always empty here.
func (g *Guard) LightSession(token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	identity, err := g.codec.Verify(token)
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid session")
	}

	return &Session{UserID: identity.UserID}, nil
}

// tokenUserHint extracts the user-ID part of a token without verifying it.
// Only for audit attribution on tokens whose signature already passed.
func tokenUserHint(token string) string {
	parts := strings.SplitN(token, ":", 2)
	return parts[0]
}
