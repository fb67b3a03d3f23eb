// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Warnings returns the checks that passed with a warning.
func (r *Result) Warnings() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Passed && c.Warning {
			out = append(out, c)
		}
	}
	return out
}

// RunAll executes all preflight checks for an agent running at most
// maxConcurrent checks at once. executables are the plugin programs named by
// the checks file; a missing one is a warning only.
func RunAll(maxConcurrent int, executables []string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3),
		Passed: true,
	}

	fdCheck := checkFileDescriptors(maxConcurrent)
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	procCheck := checkProcessLimit(maxConcurrent)
	result.Checks = append(result.Checks, procCheck)
	if !procCheck.Passed {
		result.Passed = false
	}

	result.Checks = append(result.Checks, checkExecutables(executables, exec.LookPath))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(maxConcurrent int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Three pipes per running check, plus the agent's own listeners,
	// watcher and log files.
	required := maxConcurrent*3 + 100
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d concurrent checks)", actual, required, maxConcurrent),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(maxConcurrent int) Check {
	required := maxConcurrent + 50

	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// clampLimit converts an rlimit value, including RLIM_INFINITY, to an int.
func clampLimit(v uint64) int {
	const maxInt = int(^uint(0) >> 1)
	if v == unix.RLIM_INFINITY || v > uint64(maxInt) {
		return maxInt
	}
	return int(v)
}

// checkExecutables resolves every plugin program. It never fails the run: a
// check whose program is missing completes UNKNOWN at run time.
func checkExecutables(executables []string, lookPath func(string) (string, error)) Check {
	unique := make(map[string]struct{}, len(executables))
	for _, e := range executables {
		if e != "" {
			unique[e] = struct{}{}
		}
	}

	var missing []string
	for e := range unique {
		if _, err := lookPath(e); err != nil {
			missing = append(missing, e)
		}
	}
	sort.Strings(missing)

	c := Check{
		Name:    "plugin_executables",
		Passed:  true,
		Message: fmt.Sprintf("%d of %d found", len(unique)-len(missing), len(unique)),
	}
	if len(missing) > 0 {
		c.Warning = true
		c.Message += ", missing: " + strings.Join(missing, ", ")
	}
	return c
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "plugin_executables":
		return "install the missing plugins or fix command_line in the checks file"
	default:
		return "see documentation"
	}
}
