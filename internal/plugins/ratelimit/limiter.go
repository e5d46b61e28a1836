// Package ratelimit throttles login attempts per (client IP, phone) key
// with a rolling window. The counter lives behind the CounterStore
// interface: the in-memory store is process-local best-effort throttling,
// the Redis store gives consistent counts across replicas. Swapping stores
// does not change the limiter's contract.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	// Allowed reports whether this attempt may proceed.
	Allowed bool

	// Remaining is the number of attempts left in the current window.
	Remaining int

	// RetryAfterMinutes is how long to wait before retrying, rounded up.
	// Zero when Allowed.
	RetryAfterMinutes int
}

// CounterStore records attempts per key within a rolling window.
type CounterStore interface {
	// Hit records one attempt for key and returns the attempt count in the
	// current window and how long until the window resets. The first hit of
	// a new (or lapsed) window starts it.
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetIn time.Duration, err error)
}

// Limiter combines a counter store with the attempt budget.
type Limiter struct {
	store  CounterStore
	max    int
	window time.Duration
}

// New creates a limiter allowing max attempts per window per key.
func New(store CounterStore, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: max, window: window}
}

// Key builds the composite throttling key. Including both the client IP and
// the phone number dampens single-IP sweeps across many accounts and
// distributed attacks on one account alike.
func Key(ip, identifier string) string {
	return ip + "|" + identifier
}

// Check records an attempt for key and reports whether it is allowed.
// A store failure fails open: throttling is best-effort protection and must
// never take the login path down with it.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	count, resetIn, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		slog.Warn("rate limit store unavailable, allowing attempt",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return Result{Allowed: true, Remaining: l.max - 1}
	}

	if count > l.max {
		return Result{
			Allowed:           false,
			Remaining:         0,
			RetryAfterMinutes: ceilMinutes(resetIn),
		}
	}

	return Result{Allowed: true, Remaining: l.max - count}
}

// ceilMinutes converts a duration to whole minutes, rounding up so a caller
// told to wait N minutes is never early.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Minutes()))
}
