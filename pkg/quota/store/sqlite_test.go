package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, now func() time.Time) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "quota.db"),
		Now:  now,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestSQLite(t, nil)
	})
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestSQLite(t, clock.Now)
	ctx := context.Background()

	s.IncrementCounter(ctx, "concurrent:alice", 2, time.Hour)
	s.AddToWindow(ctx, "ratelimit:global:alice:minute", clock.Now(), 2*time.Minute)

	clock.Advance(3 * time.Minute)
	if count, _ := s.CountWindow(ctx, "ratelimit:global:alice:minute"); count != 0 {
		t.Errorf("expected expired window to read empty, got %d", count)
	}
	if v, _ := s.GetCounter(ctx, "concurrent:alice"); v != 2 {
		t.Errorf("expected live counter 2, got %d", v)
	}

	// Adding to an expired window starts it afresh.
	s.AddToWindow(ctx, "ratelimit:global:alice:minute", clock.Now(), 2*time.Minute)
	if count, _ := s.CountWindow(ctx, "ratelimit:global:alice:minute"); count != 1 {
		t.Errorf("expected restarted window to hold 1 entry, got %d", count)
	}

	clock.Advance(2 * time.Hour)
	if v, _ := s.IncrementCounter(ctx, "concurrent:alice", 1, time.Hour); v != 1 {
		t.Errorf("expected expired counter to restart at 1, got %d", v)
	}

	clock.Advance(2 * time.Hour)
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed == 0 {
		t.Error("expected sweep to remove expired rows")
	}
	if keys, _ := s.Keys(ctx, "*"); len(keys) != 0 {
		t.Errorf("expected no live keys after sweep, got %v", keys)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	s := newTestSQLite(t, nil)
	s.Close()

	if _, err := s.GetCounter(context.Background(), "concurrent:alice"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after close, got %v", err)
	}
}
