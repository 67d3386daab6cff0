package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// closeEnough compares timestamps allowing for float64 score rounding in
// the Redis adapter.
func closeEnough(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < time.Microsecond
}

// runStoreContract exercises the behavior every adapter must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("counter increments and reads", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if v, err := s.GetCounter(ctx, "concurrent:alice"); err != nil || v != 0 {
			t.Fatalf("expected missing counter to read 0, got %d (err %v)", v, err)
		}

		for want := int64(1); want <= 3; want++ {
			v, err := s.IncrementCounter(ctx, "concurrent:alice", 1, time.Hour)
			if err != nil {
				t.Fatalf("increment failed: %v", err)
			}
			if v != want {
				t.Errorf("expected %d after increment, got %d", want, v)
			}
		}

		v, err := s.IncrementCounter(ctx, "concurrent:alice", -5, time.Hour)
		if err != nil {
			t.Fatalf("decrement failed: %v", err)
		}
		if v != -2 {
			t.Errorf("expected -2 after decrement, got %d", v)
		}

		v, err = s.GetCounter(ctx, "concurrent:alice")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if v != -2 {
			t.Errorf("expected counter -2, got %d", v)
		}
	})

	t.Run("window add prune count oldest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := "ratelimit:global:alice:minute"
		base := time.Now().Add(-10 * time.Second)

		if _, ok, err := s.OldestInWindow(ctx, key); err != nil || ok {
			t.Fatalf("expected empty window, got ok=%v err=%v", ok, err)
		}

		for i := 0; i < 3; i++ {
			if err := s.AddToWindow(ctx, key, base.Add(time.Duration(i)*time.Second), 2*time.Minute); err != nil {
				t.Fatalf("add failed: %v", err)
			}
		}
		// Same instant twice must count twice.
		if err := s.AddToWindow(ctx, key, base.Add(2*time.Second), 2*time.Minute); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		count, err := s.CountWindow(ctx, key)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 4 {
			t.Errorf("expected 4 entries, got %d", count)
		}

		oldest, ok, err := s.OldestInWindow(ctx, key)
		if err != nil || !ok {
			t.Fatalf("expected oldest entry, got ok=%v err=%v", ok, err)
		}
		if !closeEnough(oldest, base) {
			t.Errorf("expected oldest %v, got %v", base, oldest)
		}

		if err := s.PruneWindow(ctx, key, base.Add(time.Second)); err != nil {
			t.Fatalf("prune failed: %v", err)
		}
		count, _ = s.CountWindow(ctx, key)
		if count != 3 {
			t.Errorf("expected 3 entries after prune, got %d", count)
		}
		oldest, _, _ = s.OldestInWindow(ctx, key)
		if !closeEnough(oldest, base.Add(time.Second)) {
			t.Errorf("expected oldest %v after prune, got %v", base.Add(time.Second), oldest)
		}
	})

	t.Run("record if below", func(t *testing.T) {
		s := newStore(t)
		rec, ok := s.(WindowRecorder)
		if !ok {
			t.Skip("store does not implement WindowRecorder")
		}
		ctx := context.Background()
		key := "ratelimit:global:bob:minute"
		now := time.Now()

		for i := 0; i < 2; i++ {
			st, err := rec.RecordIfBelow(ctx, key, now.Add(time.Duration(i)*time.Millisecond), time.Minute, 2, 2*time.Minute)
			if err != nil {
				t.Fatalf("record failed: %v", err)
			}
			if !st.Admitted {
				t.Fatalf("expected entry %d to be admitted", i)
			}
			if st.Count != int64(i) {
				t.Errorf("expected prior count %d, got %d", i, st.Count)
			}
			if !closeEnough(st.Oldest, now) {
				t.Errorf("expected oldest %v, got %v", now, st.Oldest)
			}
		}

		st, err := rec.RecordIfBelow(ctx, key, now.Add(5*time.Millisecond), time.Minute, 2, 2*time.Minute)
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		if st.Admitted {
			t.Error("expected third entry to be rejected")
		}
		if st.Count != 2 {
			t.Errorf("expected count 2, got %d", st.Count)
		}
		if count, _ := s.CountWindow(ctx, key); count != 2 {
			t.Errorf("rejected entry must not be recorded, window has %d", count)
		}

		// Once the window slides past both entries, a new one is admitted.
		st, err = rec.RecordIfBelow(ctx, key, now.Add(time.Minute+time.Second), time.Minute, 2, 2*time.Minute)
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		if !st.Admitted || st.Count != 0 {
			t.Errorf("expected admission into empty window, got %+v", st)
		}
	})

	t.Run("keys and delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		mustAdd := func(key string) {
			if err := s.AddToWindow(ctx, key, now, time.Hour); err != nil {
				t.Fatalf("add %s failed: %v", key, err)
			}
		}
		mustIncr := func(key string) {
			if _, err := s.IncrementCounter(ctx, key, 1, time.Hour); err != nil {
				t.Fatalf("increment %s failed: %v", key, err)
			}
		}

		mustAdd("ratelimit:global:alice:minute")
		mustAdd("ratelimit:agent.search:alice:hour")
		mustAdd("ratelimit:global:bob:minute")
		mustIncr("concurrent:alice")
		mustIncr("tokens:alice:day")

		keys, err := s.Keys(ctx, "ratelimit:*:alice:*")
		if err != nil {
			t.Fatalf("keys failed: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("expected 2 window keys for alice, got %v", keys)
		}

		keys, _ = s.Keys(ctx, "concurrent:alice")
		if len(keys) != 1 {
			t.Errorf("expected concurrency key, got %v", keys)
		}

		if err := s.DeleteKey(ctx, "ratelimit:global:alice:minute", "concurrent:alice", "missing"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		if count, _ := s.CountWindow(ctx, "ratelimit:global:alice:minute"); count != 0 {
			t.Errorf("expected deleted window to be empty, got %d", count)
		}
		if v, _ := s.GetCounter(ctx, "concurrent:alice"); v != 0 {
			t.Errorf("expected deleted counter to read 0, got %d", v)
		}
		if v, _ := s.GetCounter(ctx, "tokens:alice:day"); v != 1 {
			t.Errorf("expected untouched counter 1, got %d", v)
		}
		if count, _ := s.CountWindow(ctx, "ratelimit:global:bob:minute"); count != 1 {
			t.Errorf("expected bob's window untouched, got %d", count)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("expected ping to succeed, got %v", err)
		}
	})
}

func TestError_MatchesUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := wrap("incr", "concurrent:alice", cause)

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected store error to match ErrUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected store error to unwrap to its cause")
	}

	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("expected *Error")
	}
	if se.Op != "incr" || se.Key != "concurrent:alice" {
		t.Errorf("unexpected error fields: %+v", se)
	}
	if got := err.Error(); got != `store incr "concurrent:alice": connection refused` {
		t.Errorf("unexpected message %q", got)
	}

	if wrap("get", "k", nil) != nil {
		t.Error("expected wrap(nil) to be nil")
	}
}
