package store

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"
)

// errClosed is returned by a MemoryStore after Close.
var errClosed = errors.New("store closed")

// MemoryStore implements Store using process-local maps.
// All data is lost when the process exits.
//
// MemoryStore is safe for concurrent use. Expired counters and windows are
// treated as absent on read; Sweep reclaims their memory.
type MemoryStore struct {
	// mu protects counters, windows and closed.
	mu sync.Mutex

	// counters maps key to counter state.
	counters map[string]*memoryCounter

	// windows maps key to a window of entry timestamps in unix nanoseconds,
	// kept sorted ascending.
	windows map[string]*memoryWindow

	closed bool

	now func() time.Time
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

type memoryWindow struct {
	entries   []int64
	expiresAt time.Time
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source used for expiry decisions.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		windows:  make(map[string]*memoryWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IncrementCounter implements Store.
func (m *MemoryStore) IncrementCounter(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, wrap("incr", key, errClosed)
	}

	now := m.now()
	c, ok := m.counters[key]
	if !ok || expired(c.expiresAt, now) {
		c = &memoryCounter{}
		if ttlIfNew > 0 {
			c.expiresAt = now.Add(ttlIfNew)
		}
		m.counters[key] = c
	}
	c.value += delta
	return c.value, nil
}

// GetCounter implements Store.
func (m *MemoryStore) GetCounter(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, wrap("get", key, errClosed)
	}

	c, ok := m.counters[key]
	if !ok || expired(c.expiresAt, m.now()) {
		return 0, nil
	}
	return c.value, nil
}

// DeleteKey implements Store.
func (m *MemoryStore) DeleteKey(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrap("del", "", errClosed)
	}

	for _, key := range keys {
		delete(m.counters, key)
		delete(m.windows, key)
	}
	return nil
}

// AddToWindow implements Store.
func (m *MemoryStore) AddToWindow(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrap("zadd", key, errClosed)
	}

	m.addLocked(key, ts, ttl)
	return nil
}

func (m *MemoryStore) addLocked(key string, ts time.Time, ttl time.Duration) {
	now := m.now()
	w := m.liveWindowLocked(key, now)
	if w == nil {
		w = &memoryWindow{}
		m.windows[key] = w
	}

	n := ts.UnixNano()
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i] > n })
	w.entries = append(w.entries, 0)
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = n

	if ttl > 0 {
		w.expiresAt = now.Add(ttl)
	} else {
		w.expiresAt = time.Time{}
	}
}

// liveWindowLocked returns the window at key, dropping it if expired.
func (m *MemoryStore) liveWindowLocked(key string, now time.Time) *memoryWindow {
	w, ok := m.windows[key]
	if !ok {
		return nil
	}
	if expired(w.expiresAt, now) {
		delete(m.windows, key)
		return nil
	}
	return w
}

// PruneWindow implements Store.
func (m *MemoryStore) PruneWindow(ctx context.Context, key string, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrap("zremrangebyscore", key, errClosed)
	}

	if w := m.liveWindowLocked(key, m.now()); w != nil {
		pruneEntries(w, olderThan.UnixNano())
	}
	return nil
}

func pruneEntries(w *memoryWindow, cutoff int64) {
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i] >= cutoff })
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

// CountWindow implements Store.
func (m *MemoryStore) CountWindow(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, wrap("zcard", key, errClosed)
	}

	w := m.liveWindowLocked(key, m.now())
	if w == nil {
		return 0, nil
	}
	return int64(len(w.entries)), nil
}

// OldestInWindow implements Store.
func (m *MemoryStore) OldestInWindow(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return time.Time{}, false, wrap("zrange", key, errClosed)
	}

	w := m.liveWindowLocked(key, m.now())
	if w == nil || len(w.entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, w.entries[0]), true, nil
}

// RecordIfBelow implements WindowRecorder.
func (m *MemoryStore) RecordIfBelow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, ttl time.Duration) (WindowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return WindowState{}, wrap("record", key, errClosed)
	}

	var state WindowState
	if w := m.liveWindowLocked(key, m.now()); w != nil {
		pruneEntries(w, now.Add(-window).UnixNano()+1)
		state.Count = int64(len(w.entries))
		if len(w.entries) > 0 {
			state.Oldest = time.Unix(0, w.entries[0])
		}
	}

	if state.Count >= limit {
		return state, nil
	}

	m.addLocked(key, now, ttl)
	state.Admitted = true
	if state.Oldest.IsZero() {
		state.Oldest = now
	}
	return state, nil
}

// Keys implements Store. Patterns use path.Match syntax, which agrees with
// Redis glob syntax for the '*' and '?' wildcards as long as keys contain no
// '/' characters.
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, wrap("keys", pattern, errClosed)
	}

	now := m.now()
	var keys []string
	for key, c := range m.counters {
		if expired(c.expiresAt, now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key, w := range m.windows {
		if expired(w.expiresAt, now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep implements Sweeper.
func (m *MemoryStore) Sweep(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for key, c := range m.counters {
		if expired(c.expiresAt, now) {
			delete(m.counters, key)
			removed++
		}
	}
	for key, w := range m.windows {
		if expired(w.expiresAt, now) || len(w.entries) == 0 {
			delete(m.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrap("ping", "", errClosed)
	}
	return nil
}

// Close implements Store. Subsequent operations fail with ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.counters = make(map[string]*memoryCounter)
	m.windows = make(map[string]*memoryWindow)
	return nil
}
