package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pchaisri/gearstock/internal/clock"
)

// Lockout enforces the consecutive-failure policy: once an account crosses
// the threshold it is locked for the configured duration. Locks expire
// lazily -- nothing clears locked_until on schedule, the login path just
// stops honoring it once the instant has passed.
type Lockout struct {
	repo      Repository
	threshold int
	duration  time.Duration
	clock     clock.Clock
}

// NewLockout creates a lockout policy over the given repository.
func NewLockout(repo Repository, threshold int, duration time.Duration, clk clock.Clock) *Lockout {
	return &Lockout{repo: repo, threshold: threshold, duration: duration, clock: clk}
}

// Status reports whether the account is currently locked and how long the
// lock has left.
func (l *Lockout) Status(account *Account) (locked bool, remaining time.Duration) {
	return account.lockedAt(l.clock.Now())
}

// OnFailure records one failed attempt. When the new count reaches the
// threshold it locks the account and reports the lock expiry. Otherwise it
// reports how many attempts remain before lockout.
func (l *Lockout) OnFailure(ctx context.Context, account *Account) (locked bool, until time.Time, attemptsLeft int, err error) {
	count, err := l.repo.RecordFailedAttempt(ctx, account.ID)
	if err != nil {
		return false, time.Time{}, 0, fmt.Errorf("recording failed attempt: %w", err)
	}

	if count >= l.threshold {
		until = l.clock.Now().Add(l.duration)
		if err := l.repo.SetLock(ctx, account.ID, until); err != nil {
			return false, time.Time{}, 0, fmt.Errorf("locking account: %w", err)
		}
		return true, until, 0, nil
	}

	return false, time.Time{}, l.threshold - count, nil
}

// OnSuccess clears the failure counter and any lock after a good login.
func (l *Lockout) OnSuccess(ctx context.Context, accountID string) error {
	return l.repo.ResetLoginState(ctx, accountID)
}

// Duration returns the configured lock duration.
func (l *Lockout) Duration() time.Duration { return l.duration }
