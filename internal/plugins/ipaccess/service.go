package ipaccess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/clock"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/sanitize"
)

// Actor identifies the caller of an admin mutation. The role is always
// re-validated server-side here; a client-supplied role is never trusted
// upstream of this check.
type Actor struct {
	ID   string
	Role string
}

// Service evaluates and manages IP rules.
type Service interface {
	// Evaluate checks ip against the active rule table. Block wins over
	// any coexisting Allow; absence of rules is DecisionNoRule (allowed).
	// Expiry is evaluated lazily here -- expired rows are treated as
	// inactive without any cleanup pass. A store failure yields
	// DecisionNoRule: the gate fails open rather than locking everyone out.
	Evaluate(ctx context.Context, ip string) Decision

	// Blocked reports whether ip resolves to DecisionBlocked. It is the
	// narrow view of Evaluate used by the login path.
	Blocked(ctx context.Context, ip string) bool

	// CreateRule persists a new rule. Admin-only; the address format is
	// validated before persistence. Audited.
	CreateRule(ctx context.Context, actor Actor, meta audit.RequestMeta, input CreateRuleInput) (*Rule, error)

	// DeleteRule removes a rule. Admin-only. Audited.
	DeleteRule(ctx context.Context, actor Actor, meta audit.RequestMeta, id string) error

	// ToggleRule flips a rule's active flag. Admin-only. Audited.
	ToggleRule(ctx context.Context, actor Actor, meta audit.RequestMeta, id string, active bool) error

	// ListRules returns all rules for the security dashboard. Admin-only.
	ListRules(ctx context.Context, actor Actor) ([]Rule, error)
}

// service implements Service.
type service struct {
	repo    Repository
	auditor audit.Service
	clock   clock.Clock
}

// NewService creates an IP access service.
func NewService(repo Repository, auditor audit.Service, clk clock.Clock) Service {
	return &service{repo: repo, auditor: auditor, clock: clk}
}

// Evaluate checks ip against the rule table.
func (s *service) Evaluate(ctx context.Context, ip string) Decision {
	if ip == "" || ip == "unknown" {
		return DecisionNoRule
	}

	rules, err := s.repo.FindActiveByAddress(ctx, ip)
	if err != nil {
		// Fail open: a broken rule store must not block every login.
		slog.Error("ip rule lookup failed, allowing",
			slog.String("ip", ip),
			slog.Any("error", err),
		)
		return DecisionNoRule
	}

	now := s.clock.Now()
	allowed := false
	for _, rule := range rules {
		if rule.expired(now) {
			continue
		}
		if rule.RuleType == RuleBlock {
			return DecisionBlocked
		}
		if rule.RuleType == RuleAllow {
			allowed = true
		}
	}

	if allowed {
		return DecisionAllowed
	}
	return DecisionNoRule
}

// Blocked reports whether ip is actively blocked.
func (s *service) Blocked(ctx context.Context, ip string) bool {
	return s.Evaluate(ctx, ip) == DecisionBlocked
}

// CreateRule validates and persists a new rule.
func (s *service) CreateRule(ctx context.Context, actor Actor, meta audit.RequestMeta, input CreateRuleInput) (*Rule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	address := strings.TrimSpace(input.IPAddress)
	if !ValidAddress(address) {
		return nil, apperror.NewValidation("invalid IP address format")
	}
	if input.RuleType != RuleAllow && input.RuleType != RuleBlock {
		return nil, apperror.NewValidation("rule type must be \"allow\" or \"block\"")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.clock.Now()) {
		return nil, apperror.NewValidation("expiry must be in the future")
	}

	rule := &Rule{
		ID:        uuid.NewString(),
		IPAddress: address,
		RuleType:  input.RuleType,
		Reason:    sanitize.Text(input.Reason),
		ExpiresAt: input.ExpiresAt,
		IsActive:  true,
		CreatedBy: actor.ID,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating ip rule: %w", err))
	}

	s.auditor.Record(ctx, meta, audit.ActionIPRuleCreated, map[string]any{
		"ip_address": rule.IPAddress,
		"rule_type":  rule.RuleType,
		"reason":     rule.Reason,
	}, "", actor.ID)

	return rule, nil
}

// DeleteRule removes a rule, capturing its content in the audit trail first.
func (s *service) DeleteRule(ctx context.Context, actor Actor, meta audit.RequestMeta, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if appErr, ok := err.(*apperror.AppError); ok {
			return appErr
		}
		return apperror.NewInternal(fmt.Errorf("loading ip rule: %w", err))
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if appErr, ok := err.(*apperror.AppError); ok {
			return appErr
		}
		return apperror.NewInternal(fmt.Errorf("deleting ip rule: %w", err))
	}

	s.auditor.Record(ctx, meta, audit.ActionIPRuleDeleted, map[string]any{
		"ip_address": rule.IPAddress,
		"rule_type":  rule.RuleType,
	}, "", actor.ID)

	return nil
}

// ToggleRule flips a rule's active flag.
func (s *service) ToggleRule(ctx context.Context, actor Actor, meta audit.RequestMeta, id string, active bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if appErr, ok := err.(*apperror.AppError); ok {
			return appErr
		}
		return apperror.NewInternal(fmt.Errorf("toggling ip rule: %w", err))
	}

	s.auditor.Record(ctx, meta, audit.ActionIPRuleToggled, map[string]any{
		"rule_id":   id,
		"is_active": active,
	}, "", actor.ID)

	return nil
}

// ListRules returns all rules for the dashboard.
func (s *service) ListRules(ctx context.Context, actor Actor) ([]Rule, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing ip rules: %w", err))
	}

	return rules, nil
}

// requireAdmin re-validates the caller's role on every mutation.
func requireAdmin(actor Actor) error {
	if actor.ID == "" || actor.Role != "admin" {
		return apperror.NewForbidden("admin access required")
	}
	return nil
}
