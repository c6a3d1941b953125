package circuitbreaker

import "fmt"

// State represents the circuit breaker state
type State int32

const (
	// StateClosed - Circuit is closed, calls pass through
	StateClosed State = iota

	// StateHalfOpen - Circuit is testing if the dependency recovered
	StateHalfOpen

	// StateOpen - Circuit is open, calls fail fast
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown state: %d", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states render as their
// names in JSON status reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
