package check

// State represents where a check is in its run cycle.
type State int

const (
	// StateIdle is the initial state and the state after each cycle.
	StateIdle State = iota

	// StateDispatched indicates a run is in flight.
	StateDispatched

	// StateCompleted indicates the last run completed on its own.
	StateCompleted

	// StateTimedOut indicates the last run was completed by its timeout.
	StateTimedOut
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// IsRunning returns true while a run is in flight.
func (s State) IsRunning() bool {
	return s == StateDispatched
}
