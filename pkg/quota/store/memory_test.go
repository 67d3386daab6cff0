package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by the expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_CounterExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithMemoryClock(clock.Now))
	ctx := context.Background()

	s.IncrementCounter(ctx, "tokens:alice:day", 100, time.Minute)

	// A second increment must not extend the TTL.
	clock.Advance(30 * time.Second)
	s.IncrementCounter(ctx, "tokens:alice:day", 50, time.Minute)

	clock.Advance(31 * time.Second)
	v, _ := s.GetCounter(ctx, "tokens:alice:day")
	if v != 0 {
		t.Errorf("expected expired counter to read 0, got %d", v)
	}

	v, _ = s.IncrementCounter(ctx, "tokens:alice:day", 10, time.Minute)
	if v != 10 {
		t.Errorf("expected fresh counter 10, got %d", v)
	}
}

func TestMemoryStore_WindowExpiryAndSweep(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithMemoryClock(clock.Now))
	ctx := context.Background()

	s.AddToWindow(ctx, "ratelimit:global:alice:minute", clock.Now(), 2*time.Minute)
	s.IncrementCounter(ctx, "concurrent:alice", 1, time.Hour)
	s.IncrementCounter(ctx, "tokens:alice:day", 1, 0)

	clock.Advance(3 * time.Minute)

	if count, _ := s.CountWindow(ctx, "ratelimit:global:alice:minute"); count != 0 {
		t.Errorf("expected expired window to be empty, got %d", count)
	}
	if keys, _ := s.Keys(ctx, "ratelimit:*"); len(keys) != 0 {
		t.Errorf("expected no live window keys, got %v", keys)
	}

	clock.Advance(time.Hour)
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed entry, got %d", removed)
	}

	if v, _ := s.GetCounter(ctx, "tokens:alice:day"); v != 1 {
		t.Errorf("counter without TTL must survive sweeps, got %d", v)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	ctx := context.Background()

	if _, err := s.IncrementCounter(ctx, "concurrent:alice", 1, 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := s.AddToWindow(ctx, "k", time.Now(), time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable from ping, got %v", err)
	}
}

func TestMemoryStore_ConcurrentRecordIfBelow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const limit = 50

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.RecordIfBelow(ctx, "ratelimit:global:alice:minute", time.Now(), time.Minute, limit, 2*time.Minute)
			if err != nil {
				t.Errorf("record failed: %v", err)
				return
			}
			if st.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("expected exactly %d admissions, got %d", limit, admitted)
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkMemoryStore_RecordIfBelow(b *testing.B) {
	s := NewMemoryStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.RecordIfBelow(ctx, "ratelimit:global:bench:minute", time.Now(), time.Minute, 1000, 2*time.Minute)
	}
}
