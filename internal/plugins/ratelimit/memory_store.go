package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pchaisri/gearstock/internal/clock"
)

// pruneThreshold is the map size above which a Hit sweeps lapsed windows.
// Keeps memory bounded without a background goroutine -- entries are
// otherwise pruned lazily as their keys are touched.
const pruneThreshold = 512

// memoryEntry tracks attempts for one key within the current window.
type memoryEntry struct {
	count       int
	windowStart time.Time
}

// MemoryStore is a process-local CounterStore. Counts are NOT shared across
// replicas and reset on restart; acceptable for single-instance deployments,
// use RedisStore when scaling out.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clock.Clock
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clk,
	}
}

// Hit implements CounterStore.
func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if len(s.entries) > pruneThreshold {
		s.prune(now, window)
	}

	entry, ok := s.entries[key]
	if !ok || now.Sub(entry.windowStart) > window {
		s.entries[key] = &memoryEntry{count: 1, windowStart: now}
		return 1, window, nil
	}

	entry.count++
	resetIn := window - now.Sub(entry.windowStart)
	return entry.count, resetIn, nil
}

// prune drops entries whose window has lapsed. Caller holds the lock.
func (s *MemoryStore) prune(now time.Time, window time.Duration) {
	for key, entry := range s.entries {
		if now.Sub(entry.windowStart) > window {
			delete(s.entries, key)
		}
	}
}
