package quota

import (
	"context"
	"testing"
	"time"

	"mercator-hq/admission/pkg/quota/store"
)

func TestSlidingWindowLimiter_CheckAndRecord(t *testing.T) {
	variants := map[string]func(clock *testClock) store.Store{
		"atomic": func(clock *testClock) store.Store {
			return store.NewMemoryStore(store.WithMemoryClock(clock.Now))
		},
		"sequential": func(clock *testClock) store.Store {
			return sequentialStore{store.NewMemoryStore(store.WithMemoryClock(clock.Now))}
		},
	}

	for name, newStore := range variants {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			l := NewSlidingWindowLimiter(newStore(clock), WithClock(clock.Now))
			ctx := context.Background()
			start := clock.Now()

			for i := int64(0); i < 3; i++ {
				res := l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 3)
				if !res.Allowed {
					t.Fatalf("request %d: expected allowed", i+1)
				}
				if res.Remaining != 2-i {
					t.Errorf("request %d: expected remaining %d, got %d", i+1, 2-i, res.Remaining)
				}
				if want := clock.Now().Add(time.Minute); !res.Reset.Equal(want) {
					t.Errorf("request %d: expected reset %v, got %v", i+1, want, res.Reset)
				}
				clock.Advance(10 * time.Second)
			}

			res := l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 3)
			if res.Allowed {
				t.Fatal("expected 4th request to be denied")
			}
			if res.Remaining != 0 {
				t.Errorf("expected remaining 0, got %d", res.Remaining)
			}
			if want := start.Add(time.Minute); !res.Reset.Equal(want) {
				t.Errorf("expected reset %v, got %v", want, res.Reset)
			}
			if res.RetryAfter != 30*time.Second {
				t.Errorf("expected retry after 30s, got %v", res.RetryAfter)
			}

			// A denied request is not recorded, so once the oldest entry
			// leaves the window exactly one slot opens.
			clock.Advance(30 * time.Second)
			if res := l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 3); !res.Allowed {
				t.Error("expected request to be allowed after oldest entry expired")
			}
			if res := l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 3); res.Allowed {
				t.Error("expected window to be full again")
			}

			// Other identifiers and scopes are independent.
			if res := l.CheckAndRecord(ctx, "bob", GlobalScope, WindowMinute, 3); !res.Allowed {
				t.Error("expected bob to be unaffected")
			}
			if res := l.CheckAndRecord(ctx, "alice", ResourceScope("search"), WindowMinute, 3); !res.Allowed {
				t.Error("expected resource scope to be unaffected")
			}
		})
	}
}

func TestSlidingWindowLimiter_DisabledLimit(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	l := NewSlidingWindowLimiter(st, WithClock(clock.Now))

	for i := 0; i < 50; i++ {
		if res := l.CheckAndRecord(context.Background(), "alice", GlobalScope, WindowMinute, 0); !res.Allowed {
			t.Fatal("expected disabled window to always allow")
		}
	}
	if keys, _ := st.Keys(context.Background(), "*"); len(keys) != 0 {
		t.Errorf("disabled window must not write, got keys %v", keys)
	}
}

func TestSlidingWindowLimiter_RetryAfterBounds(t *testing.T) {
	clock := newTestClock()
	l := NewSlidingWindowLimiter(store.NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.CheckAndRecord(ctx, "alice", GlobalScope, WindowHour, 5)
		clock.Advance(7 * time.Minute)
	}

	for i := 0; i < 10; i++ {
		res := l.CheckAndRecord(ctx, "alice", GlobalScope, WindowHour, 5)
		if res.Allowed {
			break
		}
		if res.RetryAfter < 0 || res.RetryAfter > WindowHour.Length {
			t.Fatalf("retry after %v out of bounds", res.RetryAfter)
		}
		clock.Advance(res.RetryAfter)
	}
}

func TestSlidingWindowLimiter_FailsOpen(t *testing.T) {
	metrics := NewMetrics(nil)
	l := NewSlidingWindowLimiter(brokenStore{}, WithMetrics(metrics))

	res := l.CheckAndRecord(context.Background(), "alice", GlobalScope, WindowMinute, 1)
	if !res.Allowed {
		t.Error("expected store failure to fail open")
	}
	if !res.FailedOpen {
		t.Error("expected FailedOpen to be set")
	}
}

func TestSlidingWindowLimiter_Peek(t *testing.T) {
	clock := newTestClock()
	l := NewSlidingWindowLimiter(store.NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()
	start := clock.Now()

	l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 10)
	clock.Advance(time.Second)
	l.CheckAndRecord(ctx, "alice", GlobalScope, WindowMinute, 10)

	for i := 0; i < 3; i++ {
		u, err := l.Peek(ctx, "alice", GlobalScope, WindowMinute, 10)
		if err != nil {
			t.Fatalf("peek failed: %v", err)
		}
		if u.Count != 2 || u.Remaining != 8 {
			t.Errorf("expected count 2 remaining 8, got %d/%d", u.Count, u.Remaining)
		}
		if !u.Reset.Equal(start.Add(time.Minute)) {
			t.Errorf("expected reset %v, got %v", start.Add(time.Minute), u.Reset)
		}
	}
}
