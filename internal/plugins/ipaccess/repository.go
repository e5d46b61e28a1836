package ipaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pchaisri/gearstock/internal/apperror"
)

// Repository defines the data access contract for IP rules.
type Repository interface {
	Create(ctx context.Context, rule *Rule) error
	FindByID(ctx context.Context, id string) (*Rule, error)
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error

	// FindActiveByAddress returns all is_active rules matching the exact
	// address, both types. Expiry is NOT filtered here -- the service
	// evaluates it lazily against its own clock.
	FindActiveByAddress(ctx context.Context, ip string) ([]Rule, error)

	// List returns all rules, newest first, with creator names joined.
	List(ctx context.Context) ([]Rule, error)
}

// repository implements Repository with MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Create inserts a new rule row.
func (r *repository) Create(ctx context.Context, rule *Rule) error {
	query := `INSERT INTO ip_rules (id, ip_address, rule_type, reason, expires_at, is_active, created_by, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var reason any
	if rule.Reason != "" {
		reason = rule.Reason
	}

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.IPAddress, rule.RuleType, reason,
		rule.ExpiresAt, rule.IsActive, rule.CreatedBy, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting ip rule: %w", err)
	}

	return nil
}

// FindByID retrieves a rule by its UUID.
// Returns apperror.NotFound if no rule exists with this ID.
func (r *repository) FindByID(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT id, ip_address, rule_type, COALESCE(reason, ''), expires_at, is_active, created_by, created_at
	          FROM ip_rules WHERE id = ?`

	rule := &Rule{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.IPAddress, &rule.RuleType, &rule.Reason,
		&rule.ExpiresAt, &rule.IsActive, &rule.CreatedBy, &rule.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("ip rule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying ip rule: %w", err)
	}

	return rule, nil
}

// Delete removes a rule row.
func (r *repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM ip_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ip rule: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("ip rule not found")
	}

	return nil
}

// SetActive flips the is_active flag.
func (r *repository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE ip_rules SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("updating ip rule active flag: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("ip rule not found")
	}

	return nil
}

// FindActiveByAddress returns active rules for the exact address.
func (r *repository) FindActiveByAddress(ctx context.Context, ip string) ([]Rule, error) {
	query := `SELECT id, ip_address, rule_type, COALESCE(reason, ''), expires_at, is_active, created_by, created_at
	          FROM ip_rules WHERE ip_address = ? AND is_active = TRUE`

	rows, err := r.db.QueryContext(ctx, query, ip)
	if err != nil {
		return nil, fmt.Errorf("querying active ip rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows, false)
}

// List returns all rules with creator names, newest first.
func (r *repository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT r.id, r.ip_address, r.rule_type, COALESCE(r.reason, ''), r.expires_at,
	                 r.is_active, r.created_by, r.created_at,
	                 COALESCE(p.full_name, '') AS creator_name
	          FROM ip_rules r
	          LEFT JOIN profiles p ON p.id = r.created_by
	          ORDER BY r.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing ip rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows, true)
}

// scanRules scans rule rows; withCreator expects the joined creator_name column.
func scanRules(rows *sql.Rows, withCreator bool) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		var rule Rule
		dest := []any{
			&rule.ID, &rule.IPAddress, &rule.RuleType, &rule.Reason,
			&rule.ExpiresAt, &rule.IsActive, &rule.CreatedBy, &rule.CreatedAt,
		}
		if withCreator {
			dest = append(dest, &rule.CreatorName)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning ip rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ip rules: %w", err)
	}

	return rules, nil
}
