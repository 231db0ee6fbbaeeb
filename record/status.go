package record

import "fmt"

// Status is the lifecycle state of a relay record. Stored as an integer.
type Status int

const (
	// StatusQueued is the initial state, awaiting a delivery attempt.
	StatusQueued Status = iota

	// StatusProcessing means a delivery attempt is in flight.
	StatusProcessing

	// StatusCompleted is the terminal success state.
	StatusCompleted

	// StatusFailed is the terminal failure state.
	StatusFailed

	// StatusCancelled is the terminal operator-initiated state.
	StatusCancelled
)

// statusInfo is the side table mapping each status to its metadata.
var statusInfo = map[Status]struct {
	label       string
	description string
}{
	StatusQueued:     {"queued", "awaiting a delivery attempt"},
	StatusProcessing: {"processing", "a delivery attempt is in flight"},
	StatusCompleted:  {"completed", "delivered successfully"},
	StatusFailed:     {"failed", "delivery failed"},
	StatusCancelled:  {"cancelled", "cancelled by an operator"},
}

// Statuses returns the closed set of all statuses in declaration order.
func Statuses() []Status {
	return []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
}

// Label returns the short machine-friendly name for the status.
func (s Status) Label() string {
	if info, ok := statusInfo[s]; ok {
		return info.label
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Description returns the human-readable description for the status.
func (s Status) Description() string {
	if info, ok := statusInfo[s]; ok {
		return info.description
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// String implements fmt.Stringer.
func (s Status) String() string { return s.Label() }

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
