package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/admission/pkg/quota/store"
)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenStore fails every operation, simulating an unreachable backend.
type brokenStore struct{}

var errBroken = &store.Error{Op: "dial", Err: errors.New("connection refused")}

func (brokenStore) IncrementCounter(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errBroken
}
func (brokenStore) GetCounter(context.Context, string) (int64, error) { return 0, errBroken }
func (brokenStore) DeleteKey(context.Context, ...string) error      { return errBroken }
func (brokenStore) AddToWindow(context.Context, string, time.Time, time.Duration) error {
	return errBroken
}
func (brokenStore) PruneWindow(context.Context, string, time.Time) error { return errBroken }
func (brokenStore) CountWindow(context.Context, string) (int64, error)  { return 0, errBroken }
func (brokenStore) OldestInWindow(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errBroken
}
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errBroken }
func (brokenStore) Ping(context.Context) error                     { return errBroken }
func (brokenStore) Close() error                                   { return nil }

// brokenRecorder is a brokenStore that also offers atomic window recording.
type brokenRecorder struct {
	brokenStore
}

func (brokenRecorder) RecordIfBelow(context.Context, string, time.Time, time.Duration, int64, time.Duration) (store.WindowState, error) {
	return store.WindowState{}, errBroken
}

// sequentialStore hides the WindowRecorder capability of the memory store
// so the non-atomic window path is exercised.
type sequentialStore struct {
	store.Store
}

func basicTier() Tier {
	return Tier{
		Name:                    "basic",
		RequestsPerMinute:       20,
		RequestsPerHour:         500,
		RequestsPerDay:          5000,
		ExecutionsPerHour:       10,
		ExecutionsPerDay:        100,
		MaxConcurrentExecutions: 2,
		MaxTokensPerDay:         Int64(1000),
	}
}

func premiumTier() Tier {
	return Tier{
		Name:                    "premium",
		RequestsPerMinute:       100,
		RequestsPerHour:         5000,
		RequestsPerDay:          50000,
		ExecutionsPerHour:       50,
		ExecutionsPerDay:        1000,
		MaxConcurrentExecutions: 10,
		MaxTokensPerDay:         Int64(100000),
	}
}

func byokTier() Tier {
	return Tier{
		Name:                    "byok",
		RequestsPerMinute:       200,
		RequestsPerHour:         10000,
		RequestsPerDay:          100000,
		ExecutionsPerHour:       100,
		ExecutionsPerDay:        2000,
		MaxConcurrentExecutions: 20,
	}
}

func newTestTiers(t *testing.T, overrides AgentOverrides) *TierTable {
	t.Helper()
	tiers, err := NewTierTable([]Tier{basicTier(), premiumTier(), byokTier()}, overrides)
	if err != nil {
		t.Fatalf("failed to build tier table: %v", err)
	}
	return tiers
}

func newTestLimiter(t *testing.T, st store.Store, clock *testClock, opts ...Option) *Limiter {
	t.Helper()
	all := append([]Option{WithClock(clock.Now)}, opts...)
	return NewLimiter(st, newTestTiers(t, nil), all...)
}
