package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the backing store could not serve a request.
// Every *Error returned by an adapter matches it under errors.Is.
var ErrUnavailable = errors.New("quota store unavailable")

// Store is the shared key-value backend for counters and sliding windows.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Individual operations are atomic; sequences of operations are not.
type Store interface {
	// IncrementCounter adds delta to the counter at key and returns the new
	// value. When the counter does not exist (or has expired) it is created
	// with value delta and, if ttlIfNew > 0, expires after ttlIfNew. The TTL
	// of an existing counter is left unchanged.
	IncrementCounter(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error)

	// GetCounter returns the counter value, or 0 when the key is absent.
	GetCounter(ctx context.Context, key string) (int64, error)

	// DeleteKey removes the given keys. Missing keys are ignored.
	DeleteKey(ctx context.Context, keys ...string) error

	// AddToWindow records one entry at ts in the window at key and sets the
	// window's expiry to ttl from now.
	AddToWindow(ctx context.Context, key string, ts time.Time, ttl time.Duration) error

	// PruneWindow removes entries strictly older than olderThan.
	PruneWindow(ctx context.Context, key string, olderThan time.Time) error

	// CountWindow returns the number of entries in the window.
	CountWindow(ctx context.Context, key string) (int64, error)

	// OldestInWindow returns the timestamp of the oldest entry. The boolean
	// is false when the window is empty.
	OldestInWindow(ctx context.Context, key string) (time.Time, bool, error)

	// Keys returns all live keys matching a glob pattern. Only '*' and '?'
	// are used by callers; literal segments are pre-escaped.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// WindowState is the outcome of an atomic RecordIfBelow call.
type WindowState struct {
	// Admitted reports whether a new entry was recorded.
	Admitted bool

	// Count is the number of entries in the window before this call,
	// after pruning.
	Count int64

	// Oldest is the oldest entry remaining in the window, or the new entry
	// when the window was empty. Zero when the window is empty and nothing
	// was recorded.
	Oldest time.Time
}

// WindowRecorder is implemented by stores that can prune, count and record
// a window entry in one atomic step. Entries at least window old are pruned,
// so an entry stops counting exactly one window after it was made.
//
// Limiters prefer it over the PruneWindow/CountWindow/AddToWindow sequence,
// which can admit a few extra requests under contention.
type WindowRecorder interface {
	RecordIfBelow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, ttl time.Duration) (WindowState, error)
}

// Sweeper is implemented by stores that need periodic reclamation of
// expired entries.
type Sweeper interface {
	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int64, error)
}

// Error describes a failed store operation.
type Error struct {
	// Op is the store operation that failed (e.g. "incr", "zadd").
	Op string

	// Key is the key being operated on, if any.
	Key string

	// Err is the underlying backend error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUnavailable.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
