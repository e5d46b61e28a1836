// Package clock abstracts time.Now so time-dependent components (rate
// limiter, lockout policy, token codec) can be tested deterministically.
package clock

import "time"

// Clock supplies the current time. Production code uses Real; tests
// substitute a Fake advanced manually.
type Clock interface {
	Now() time.Time
}

// Real is the production clock backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually-advanced clock for tests. Not safe for concurrent
// mutation; tests drive it from a single goroutine.
type Fake struct {
	Current time.Time
}

// NewFake creates a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{Current: start}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time { return f.Current }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
