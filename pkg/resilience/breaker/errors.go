package breaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by every rejection. The guarded call did
	// not execute.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNotFound is returned by registry operations on an unknown name.
	ErrNotFound = errors.New("circuit breaker not found")
)

// OpenError is returned when a breaker rejects a call.
type OpenError struct {
	// Name is the breaker that rejected the call.
	Name string

	// RetryAfter is the time left until the breaker will let a probe
	// through.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Is matches ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// StatusError reports an HTTP response counted as a failure by Transport.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
