package check

import (
	"strings"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

// Status is the Nagios-style outcome of a check run.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// String returns the label used in check outputs.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// StatusFromExitCode maps a plugin exit code to a status. Codes outside
// 0..3 are unknown.
func StatusFromExitCode(code int) Status {
	if code < 0 || code > int(StatusUnknown) {
		return StatusUnknown
	}
	return Status(code)
}

// Result is produced once per completed run.
type Result struct {
	Status   Status
	Perfdata []perfdata.Perfdata
	Outputs  []string

	// TimedOut is set when the run was completed by its timeout.
	TimedOut bool

	// ExitCode is the raw process exit code, -1 for in-process checks.
	ExitCode int

	// Err is set when the command could not be run at all.
	Err error

	Start time.Time
	End   time.Time
}

// Description returns the first output line without its perfdata, as valid
// UTF-8.
func (r Result) Description() string {
	if len(r.Outputs) == 0 {
		return ""
	}
	text, _ := perfdata.SplitOutput(r.Outputs[0])
	return strings.ToValidUTF8(strings.TrimSpace(text), "\uFFFD")
}

// Duration returns the run time of the check.
func (r Result) Duration() time.Duration {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}
