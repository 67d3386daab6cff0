package breaker

import (
	"encoding/json"
	"fmt"
)

// State is the state of a circuit breaker.
type State int

const (
	// StateClosed is normal operation: calls pass through and are monitored.
	StateClosed State = iota

	// StateOpen rejects every call until the open timeout elapses.
	StateOpen

	// StateHalfOpen lets calls through to probe whether the dependency
	// recovered.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state name produced by String.
func ParseState(name string) (State, error) {
	switch name {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half-open":
		return StateHalfOpen, nil
	default:
		return 0, fmt.Errorf("unknown circuit breaker state %q", name)
	}
}
