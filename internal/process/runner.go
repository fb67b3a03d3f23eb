// Package process runs external check commands.
package process

import (
	"time"
)

// ExitStatus classifies how a process invocation ended.
type ExitStatus int

const (
	// ExitNormal means the process exited on its own.
	ExitNormal ExitStatus = iota

	// ExitTimedOut means the timeout fired before the process exited.
	ExitTimedOut

	// ExitCrashed covers signal deaths and wait failures not caused by a kill.
	ExitCrashed
)

// String returns a human-readable name for the status.
func (s ExitStatus) String() string {
	switch s {
	case ExitNormal:
		return "normal"
	case ExitTimedOut:
		return "timed_out"
	case ExitCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Result captures the outcome of one process invocation.
type Result struct {
	Status   ExitStatus
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Start    time.Time
	End      time.Time

	// Err is the wait error, if any.
	Err error
}

// Duration returns the wall time of the invocation.
func (r Result) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// CompletionFunc is called exactly once when an invocation has exited and
// both output streams reached end of file.
type CompletionFunc func(Result)
