package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/clock"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/ratelimit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
	"github.com/pchaisri/gearstock/internal/sanitize"
)

// lowAttemptsWarning is the failure count at which login errors start
// telling the user how many attempts remain before lockout. Earlier
// failures get the generic message only.
const lowAttemptsWarning = 3

// IPGate is the login path's view of the IP access controller.
type IPGate interface {
	// Blocked reports whether ip is actively blocked.
	Blocked(ctx context.Context, ip string) bool
}

// Service handles authentication and account administration.
type Service interface {
	// Login runs the full login gauntlet: rate limit, IP rules, lock
	// state, PIN verification with lockout bookkeeping, approval, then
	// session issuance. Failures are apperror values with user-facing
	// messages; the generic credential message never reveals whether the
	// phone exists.
	Login(ctx context.Context, meta audit.RequestMeta, input LoginInput) (*LoginResult, error)

	// Register creates an unapproved staff account. An admin must approve
	// it before login succeeds.
	Register(ctx context.Context, meta audit.RequestMeta, input RegisterInput) (*Account, error)

	// Logout clears the account's active session. Best-effort: a missing
	// or stale identity still succeeds so the client can always drop its
	// cookies.
	Logout(ctx context.Context, meta audit.RequestMeta, userID string) error

	// CurrentAccount loads the authenticated user's own profile.
	CurrentAccount(ctx context.Context, userID string) (*Account, error)

	// Admin operations. Every one re-validates the actor's role; the
	// route group middleware is not the security boundary.
	ListAccounts(ctx context.Context, actor *Session) ([]Account, error)
	SetApproval(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string, approved bool) error
	UpdateRole(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID, role string) error
	Unlock(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string) error
	ForceLogout(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string) error
}

// service implements Service.
type service struct {
	repo    Repository
	limiter *ratelimit.Limiter
	ipGate  IPGate
	lockout *Lockout
	codec   *session.Codec
	auditor audit.Service
	clock   clock.Clock
}

// NewService creates the auth service.
func NewService(
	repo Repository,
	limiter *ratelimit.Limiter,
	ipGate IPGate,
	lockout *Lockout,
	codec *session.Codec,
	auditor audit.Service,
	clk clock.Clock,
) Service {
	return &service{
		repo:    repo,
		limiter: limiter,
		ipGate:  ipGate,
		lockout: lockout,
		codec:   codec,
		auditor: auditor,
		clock:   clk,
	}
}

// Login runs the login gauntlet. Checks are ordered cheapest-first: the
// counter bump and rule lookup happen before the account row is touched,
// and bcrypt runs only for real accounts that are not locked.
func (s *service) Login(ctx context.Context, meta audit.RequestMeta, input LoginInput) (*LoginResult, error) {
	phone := strings.TrimSpace(input.Phone)
	pin := input.PIN
	if phone == "" || pin == "" {
		return nil, apperror.NewBadRequest("phone and PIN are required")
	}

	if res := s.limiter.Check(ctx, ratelimit.Key(meta.IP, phone)); !res.Allowed {
		s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
			map[string]any{"phone": phone, "reason": "rate_limited"}, "", "")
		return nil, apperror.NewRateLimited(fmt.Sprintf(
			"Too many login attempts. Please try again in %d minutes.", res.RetryAfterMinutes))
	}

	if s.ipGate.Blocked(ctx, meta.IP) {
		s.auditor.Record(ctx, meta, audit.ActionIPBlockedLogin,
			map[string]any{"phone": phone}, "", "")
		return nil, apperror.NewForbidden("Access denied.")
	}

	account, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		if _, ok := err.(*apperror.AppError); ok {
			s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
				map[string]any{"phone": phone, "reason": "unknown_phone"}, "", "")
			return nil, apperror.NewUnauthorized("Invalid phone number or PIN.")
		}
		return nil, apperror.NewInternal(fmt.Errorf("loading account: %w", err))
	}

	if locked, remaining := s.lockout.Status(account); locked {
		s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
			map[string]any{"phone": phone, "reason": "account_locked"}, account.ID, "")
		return nil, apperror.NewLocked(fmt.Sprintf(
			"Account is locked. Please try again in %d minutes.", ceilMinutes(remaining)))
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PinHash), []byte(pin)) != nil {
		return nil, s.onBadPIN(ctx, meta, account, phone)
	}

	// Approval is checked after the PIN so an unapproved response confirms
	// nothing to someone who does not hold the credentials.
	if !account.IsApproved {
		s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
			map[string]any{"phone": phone, "reason": "not_approved"}, account.ID, "")
		return nil, apperror.NewForbidden("Your account is pending approval.")
	}

	if err := s.lockout.OnSuccess(ctx, account.ID); err != nil {
		// Stale counters inconvenience only this account's next failures;
		// not worth failing a good login over.
		slog.Error("failed to reset login state",
			slog.String("user_id", account.ID),
			slog.Any("error", err),
		)
	}

	if err := s.repo.RecordLogin(ctx, account.ID, s.clock.Now()); err != nil {
		slog.Warn("failed to stamp last login",
			slog.String("user_id", account.ID),
			slog.Any("error", err),
		)
	}

	sessionID := uuid.NewString()
	if err := s.repo.SetActiveSession(ctx, account.ID, sessionID); err != nil {
		// Without the active-session write, single-session enforcement
		// would reject the very token we are about to issue.
		return nil, apperror.NewInternal(fmt.Errorf("recording active session: %w", err))
	}

	s.auditor.Record(ctx, meta, audit.ActionLogin,
		map[string]any{"phone": phone}, "", account.ID)

	return &LoginResult{
		UserID:    account.ID,
		Role:      account.Role,
		Token:     s.codec.Issue(account.ID),
		SessionID: sessionID,
	}, nil
}

// onBadPIN handles lockout bookkeeping for a wrong PIN and builds the
// client-facing error.
func (s *service) onBadPIN(ctx context.Context, meta audit.RequestMeta, account *Account, phone string) error {
	locked, until, attemptsLeft, err := s.lockout.OnFailure(ctx, account)
	if err != nil {
		// Bookkeeping failed; the attempt is still rejected, it just may
		// not count toward lockout.
		slog.Error("lockout bookkeeping failed",
			slog.String("user_id", account.ID),
			slog.Any("error", err),
		)
		s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
			map[string]any{"phone": phone, "reason": "bad_pin"}, account.ID, "")
		return apperror.NewUnauthorized("Invalid phone number or PIN.")
	}

	if locked {
		s.auditor.Record(ctx, meta, audit.ActionAccountLocked,
			map[string]any{"phone": phone, "locked_until": until.Format(time.RFC3339)}, account.ID, "")
		return apperror.NewLocked(fmt.Sprintf(
			"Too many failed attempts. Account locked for %d minutes.",
			int(s.lockout.Duration().Minutes())))
	}

	s.auditor.Record(ctx, meta, audit.ActionLoginFailed,
		map[string]any{"phone": phone, "reason": "bad_pin", "attempts_left": attemptsLeft}, account.ID, "")

	if attemptsLeft <= lowAttemptsWarning {
		return apperror.NewUnauthorized(fmt.Sprintf(
			"Invalid phone number or PIN. %d attempts remaining before lockout.", attemptsLeft))
	}
	return apperror.NewUnauthorized("Invalid phone number or PIN.")
}

// Register creates an unapproved staff account.
func (s *service) Register(ctx context.Context, meta audit.RequestMeta, input RegisterInput) (*Account, error) {
	phone := strings.TrimSpace(input.Phone)
	fullName := sanitize.Text(input.FullName)

	if !ValidPhone(phone) {
		return nil, apperror.NewValidation("phone number must be 9-10 digits starting with 0")
	}
	if !ValidPIN(input.PIN) {
		return nil, apperror.NewValidation("PIN must be 4-6 digits")
	}
	if fullName == "" {
		return nil, apperror.NewValidation("full name is required")
	}

	exists, err := s.repo.PhoneExists(ctx, phone)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking phone: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("An account with this phone number already exists.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.PIN), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing PIN: %w", err))
	}

	now := s.clock.Now()
	account := &Account{
		ID:         uuid.NewString(),
		Phone:      phone,
		FullName:   fullName,
		PinHash:    string(hash),
		Role:       RoleStaff,
		IsApproved: false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating account: %w", err))
	}

	s.auditor.Record(ctx, meta, audit.ActionRegister,
		map[string]any{"phone": phone}, "", account.ID)

	return account, nil
}

// Logout clears the active session. Best-effort by contract.
func (s *service) Logout(ctx context.Context, meta audit.RequestMeta, userID string) error {
	if userID != "" {
		if err := s.repo.SetActiveSession(ctx, userID, ""); err != nil {
			slog.Warn("failed to clear active session on logout",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
	}

	s.auditor.Record(ctx, meta, audit.ActionLogout, nil, "", userID)
	return nil
}

// CurrentAccount loads the caller's own profile.
func (s *service) CurrentAccount(ctx context.Context, userID string) (*Account, error) {
	account, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if appErr, ok := err.(*apperror.AppError); ok {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("loading account: %w", err))
	}
	return account, nil
}

// ListAccounts returns all accounts for the user management page.
func (s *service) ListAccounts(ctx context.Context, actor *Session) ([]Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing accounts: %w", err))
	}

	return accounts, nil
}

// SetApproval approves or revokes an account. Revocation also kills the
// target's active session.
func (s *service) SetApproval(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string, approved bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if !approved && targetID == actor.UserID {
		return apperror.NewBadRequest("you cannot revoke your own account")
	}

	if err := s.repo.SetApproval(ctx, targetID, approved); err != nil {
		return wrapAccountErr(err, "setting approval")
	}

	action := audit.ActionApproveUser
	if !approved {
		action = audit.ActionRevokeUser
		if err := s.repo.SetActiveSession(ctx, targetID, ""); err != nil {
			slog.Warn("failed to clear session of revoked account",
				slog.String("target_id", targetID),
				slog.Any("error", err),
			)
		}
	}

	s.auditor.Record(ctx, meta, action, nil, targetID, actor.UserID)
	return nil
}

// UpdateRole changes an account's role.
func (s *service) UpdateRole(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID, role string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if !ValidRole(role) {
		return apperror.NewValidation("role must be \"admin\" or \"staff\"")
	}
	if targetID == actor.UserID {
		// Self-demotion would strand the dashboard without an admin mid-request.
		return apperror.NewBadRequest("you cannot change your own role")
	}

	if err := s.repo.SetRole(ctx, targetID, role); err != nil {
		return wrapAccountErr(err, "updating role")
	}

	s.auditor.Record(ctx, meta, audit.ActionUpdateRole,
		map[string]any{"role": role}, targetID, actor.UserID)
	return nil
}

// Unlock clears a lockout and failure counter ahead of schedule.
func (s *service) Unlock(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.repo.ResetLoginState(ctx, targetID); err != nil {
		return wrapAccountErr(err, "unlocking account")
	}

	s.auditor.Record(ctx, meta, audit.ActionAccountUnlocked, nil, targetID, actor.UserID)
	return nil
}

// ForceLogout invalidates the target's active session everywhere.
func (s *service) ForceLogout(ctx context.Context, actor *Session, meta audit.RequestMeta, targetID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.repo.SetActiveSession(ctx, targetID, ""); err != nil {
		return wrapAccountErr(err, "forcing logout")
	}

	s.auditor.Record(ctx, meta, audit.ActionForceLogout, nil, targetID, actor.UserID)
	return nil
}

// requireAdmin re-validates the caller's role on every admin operation.
func requireAdmin(actor *Session) error {
	if !actor.IsAdmin() {
		return apperror.NewForbidden("admin access required")
	}
	return nil
}

// wrapAccountErr passes AppErrors through and wraps everything else as
// internal.
func wrapAccountErr(err error, op string) error {
	if appErr, ok := err.(*apperror.AppError); ok {
		return appErr
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}

// ceilMinutes converts a duration to whole minutes, rounding up.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Minutes()))
}
