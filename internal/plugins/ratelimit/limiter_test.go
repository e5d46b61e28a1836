package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pchaisri/gearstock/internal/clock"
)

func newMemoryLimiter(clk clock.Clock) *Limiter {
	return New(NewMemoryStore(clk), 5, 15*time.Minute)
}

func TestCheck_AllowsWithinBudget(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	limiter := newMemoryLimiter(clk)
	key := Key("1.2.3.4", "0812345678")

	for i := 1; i <= 5; i++ {
		res := limiter.Check(context.Background(), key)
		if !res.Allowed {
			t.Fatalf("attempt %d: Allowed = false, want true", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("attempt %d: Remaining = %d, want %d", i, res.Remaining, 5-i)
		}
		if res.RetryAfterMinutes != 0 {
			t.Errorf("attempt %d: RetryAfterMinutes = %d, want 0", i, res.RetryAfterMinutes)
		}
	}
}

func TestCheck_SixthAttemptDenied(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	limiter := newMemoryLimiter(clk)
	key := Key("1.2.3.4", "0812345678")

	for i := 0; i < 5; i++ {
		limiter.Check(context.Background(), key)
	}

	clk.Advance(5 * time.Minute)
	res := limiter.Check(context.Background(), key)
	if res.Allowed {
		t.Fatal("6th attempt: Allowed = true, want false")
	}
	if res.RetryAfterMinutes <= 0 {
		t.Errorf("RetryAfterMinutes = %d, want > 0", res.RetryAfterMinutes)
	}
	// 5 minutes into a 15-minute window leaves 10.
	if res.RetryAfterMinutes != 10 {
		t.Errorf("RetryAfterMinutes = %d, want 10", res.RetryAfterMinutes)
	}
}

func TestCheck_WindowLapseResets(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	limiter := newMemoryLimiter(clk)
	key := Key("1.2.3.4", "0812345678")

	for i := 0; i < 6; i++ {
		limiter.Check(context.Background(), key)
	}
	if res := limiter.Check(context.Background(), key); res.Allowed {
		t.Fatal("expected denial before window lapse")
	}

	clk.Advance(16 * time.Minute)
	res := limiter.Check(context.Background(), key)
	if !res.Allowed {
		t.Fatal("attempt after window lapse: Allowed = false, want true")
	}
	if res.Remaining != 4 {
		t.Errorf("Remaining after reset = %d, want 4", res.Remaining)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	limiter := newMemoryLimiter(clk)

	exhausted := Key("1.2.3.4", "0812345678")
	for i := 0; i < 6; i++ {
		limiter.Check(context.Background(), exhausted)
	}

	// Same IP, different phone: separate budget.
	if res := limiter.Check(context.Background(), Key("1.2.3.4", "0899999999")); !res.Allowed {
		t.Error("different phone on same IP was throttled")
	}
	// Same phone, different IP: separate budget.
	if res := limiter.Check(context.Background(), Key("5.6.7.8", "0812345678")); !res.Allowed {
		t.Error("different IP on same phone was throttled")
	}
}

// failingStore always errors, simulating an unreachable backing store.
type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestCheck_StoreFailureFailsOpen(t *testing.T) {
	limiter := New(failingStore{}, 5, 15*time.Minute)

	res := limiter.Check(context.Background(), Key("1.2.3.4", "0812345678"))
	if !res.Allowed {
		t.Error("store failure should fail open, got denial")
	}
}

func TestMemoryStore_PrunesLapsedEntries(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)
	window := 15 * time.Minute

	// Fill past the prune threshold.
	for i := 0; i < pruneThreshold+10; i++ {
		store.Hit(context.Background(), Key("10.0.0.1", string(rune('a'+i%26)))+string(rune(i)), window)
	}

	clk.Advance(16 * time.Minute)

	// Next hit triggers the sweep; every lapsed entry should be gone,
	// leaving only the key just touched.
	store.Hit(context.Background(), "fresh-key", window)

	store.mu.Lock()
	size := len(store.entries)
	store.mu.Unlock()
	if size != 1 {
		t.Errorf("entries after prune = %d, want 1", size)
	}
}
