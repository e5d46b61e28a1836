package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pchaisri/gearstock/internal/apperror"
)

// Repository defines the data access contract for accounts.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByPhone(ctx context.Context, phone string) (*Account, error)
	PhoneExists(ctx context.Context, phone string) (bool, error)

	// RecordFailedAttempt atomically increments the failure counter and
	// returns the new count. Concurrent failed logins each see a distinct
	// count, so the lockout threshold fires exactly once.
	RecordFailedAttempt(ctx context.Context, id string) (int, error)

	// ResetLoginState zeroes the failure counter and clears any lock.
	// Called on successful login and on admin unlock.
	ResetLoginState(ctx context.Context, id string) error

	// RecordLogin stamps last_login_at. Best-effort; callers log failures
	// but do not fail the login over it.
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// SetLock locks the account until the given instant.
	SetLock(ctx context.Context, id string, until time.Time) error

	// SetActiveSession records the session ID of the latest login. An
	// empty sessionID clears it (logout / force-logout).
	SetActiveSession(ctx context.Context, id, sessionID string) error

	SetApproval(ctx context.Context, id string, approved bool) error
	SetRole(ctx context.Context, id, role string) error

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]Account, error)
}

// repository implements Repository with MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const accountColumns = `id, phone, full_name, pin_hash, role, is_approved,
	failed_login_attempts, locked_until, active_session_id, last_login_at, created_at, updated_at`

// Create inserts a new account row.
func (r *repository) Create(ctx context.Context, account *Account) error {
	query := `INSERT INTO profiles (id, phone, full_name, pin_hash, role, is_approved, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Phone, account.FullName, account.PinHash,
		account.Role, account.IsApproved, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	return nil
}

// FindByID retrieves an account by its UUID.
// Returns apperror.NotFound if no account exists with this ID.
func (r *repository) FindByID(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM profiles WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindByPhone retrieves an account by its phone number.
// Returns apperror.NotFound if no account exists with this phone.
func (r *repository) FindByPhone(ctx context.Context, phone string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM profiles WHERE phone = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, phone))
}

// PhoneExists checks whether a phone number is already registered.
func (r *repository) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM profiles WHERE phone = ?`

	if err := r.db.QueryRowContext(ctx, query, phone).Scan(&count); err != nil {
		return false, fmt.Errorf("checking phone existence: %w", err)
	}

	return count > 0, nil
}

// RecordFailedAttempt increments the failure counter and returns the new
// count. The LAST_INSERT_ID trick makes the read-back part of the same
// statement, so concurrent increments never read a stale count.
func (r *repository) RecordFailedAttempt(ctx context.Context, id string) (int, error) {
	query := `UPDATE profiles
	          SET failed_login_attempts = LAST_INSERT_ID(failed_login_attempts + 1), updated_at = NOW()
	          WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("recording failed attempt: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return 0, apperror.NewNotFound("account not found")
	}

	count, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading failure count: %w", err)
	}

	return int(count), nil
}

// ResetLoginState zeroes the failure counter and clears any lock.
func (r *repository) ResetLoginState(ctx context.Context, id string) error {
	query := `UPDATE profiles
	          SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
	          WHERE id = ?`
	return r.execOnID(ctx, query, id)
}

// RecordLogin stamps last_login_at with the login instant.
func (r *repository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE profiles SET last_login_at = ?, updated_at = NOW() WHERE id = ?`
	return r.execOnID(ctx, query, at, id)
}

// SetLock locks the account until the given instant.
func (r *repository) SetLock(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE profiles SET locked_until = ?, updated_at = NOW() WHERE id = ?`
	return r.execOnID(ctx, query, until, id)
}

// SetActiveSession records the latest login's session ID, or clears it.
func (r *repository) SetActiveSession(ctx context.Context, id, sessionID string) error {
	var value any
	if sessionID != "" {
		value = sessionID
	}

	query := `UPDATE profiles SET active_session_id = ?, updated_at = NOW() WHERE id = ?`
	return r.execOnID(ctx, query, value, id)
}

// SetApproval flips the approval flag.
func (r *repository) SetApproval(ctx context.Context, id string, approved bool) error {
	query := `UPDATE profiles SET is_approved = ?, updated_at = NOW() WHERE id = ?`
	return r.execOnID(ctx, query, approved, id)
}

// SetRole changes the account's role.
func (r *repository) SetRole(ctx context.Context, id, role string) error {
	query := `UPDATE profiles SET role = ?, updated_at = NOW() WHERE id = ?`
	return r.execOnID(ctx, query, role, id)
}

// List returns all accounts, newest first.
func (r *repository) List(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM profiles ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

// execOnID runs an UPDATE keyed on id and maps zero affected rows to
// NotFound.
func (r *repository) execOnID(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return apperror.NewNotFound("account not found")
	}

	return nil
}

// scanOne scans a single-row query result into an Account.
func (r *repository) scanOne(row *sql.Row) (*Account, error) {
	account, err := scanAccount(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("account not found")
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return account, nil
}

// scanAccount reads one account row via the given scan function, mapping
// nullable columns onto Go zero values.
func scanAccount(scan func(dest ...any) error) (*Account, error) {
	var account Account
	var fullName, activeSession sql.NullString
	var lockedUntil, lastLogin sql.NullTime

	err := scan(
		&account.ID, &account.Phone, &fullName, &account.PinHash,
		&account.Role, &account.IsApproved, &account.FailedLoginAttempts,
		&lockedUntil, &activeSession, &lastLogin, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.FullName = fullName.String
	account.ActiveSessionID = activeSession.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		account.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		account.LastLoginAt = &t
	}

	return &account, nil
}
