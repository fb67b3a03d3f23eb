package check

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/logging"
	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
	"github.com/randomizedcoder/go-monitoring-agent/internal/process"
)

// ExecCheck runs an external plugin command and parses its output.
type ExecCheck struct {
	*Base

	args   *process.Args
	stderr *logging.OutputHandler

	mu       sync.Mutex
	executor *process.Executor
}

// NewExecCheck creates a check for p.CommandLine. It fails when the command
// line cannot be split into an executable and its arguments. verbose logs
// every stderr line of the plugin instead of only problems.
func NewExecCheck(p Params, cache *process.ArgsCache, verbose bool) (*ExecCheck, error) {
	var (
		args *process.Args
		err  error
	)
	if cache != nil {
		args, err = cache.Get(p.CommandLine)
	} else {
		args, err = process.ParseArgs(p.CommandLine)
	}
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", p.Service, err)
	}

	c := &ExecCheck{
		Base: newBase(p),
		args: args,
	}
	c.stderr = logging.NewOutputHandler(p.Service, c.logger, verbose)
	c.self = c
	c.onTimeout = c.kill
	return c, nil
}

// StartCheck spawns the command. A spawn failure is reported as an UNKNOWN
// result through the normal completion path.
func (c *ExecCheck) StartCheck(timeout time.Duration) error {
	gen, err := c.begin(timeout)
	if err != nil {
		return err
	}

	executor := process.NewExecutor(process.ExecutorConfig{
		Args:   c.args,
		Logger: c.logger,
	})
	c.mu.Lock()
	c.executor = executor
	c.mu.Unlock()

	err = executor.Start(func(r process.Result) {
		c.onProcessCompletion(gen, r)
	}, 0)
	if err != nil {
		c.logger.Error("process_spawn_failed",
			"service", c.service,
			"command", c.commandLine,
			"error", err,
		)
		go c.OnCompletion(gen, Result{
			Status:   StatusUnknown,
			Outputs:  []string{fmt.Sprintf("Fail to execute %s : %v", c.commandLine, err)},
			ExitCode: -1,
			Err:      err,
		})
	}
	return nil
}

func (c *ExecCheck) kill() {
	c.mu.Lock()
	executor := c.executor
	c.mu.Unlock()

	if executor != nil {
		executor.Kill()
	}
}

func (c *ExecCheck) onProcessCompletion(gen uint64, r process.Result) {
	if len(r.Stderr) > 0 {
		c.stderr.HandleOutput(r.Stderr)
	}

	outputs := splitLines(string(r.Stdout))

	var perfs []perfdata.Perfdata
	if len(outputs) > 0 {
		if _, perf := perfdata.SplitOutput(outputs[0]); strings.TrimSpace(perf) != "" {
			perfs = perfdata.Parse(strings.TrimSpace(perf), c.logger)
		}
	}

	status := StatusFromExitCode(r.ExitCode)
	if r.Status != process.ExitNormal {
		status = StatusUnknown
	}

	c.OnCompletion(gen, Result{
		Status:   status,
		Perfdata: perfs,
		Outputs:  outputs,
		TimedOut: r.Status == process.ExitTimedOut,
		ExitCode: r.ExitCode,
		End:      r.End,
	})
}

// RecentStderr returns the latest stderr lines of the command.
func (c *ExecCheck) RecentStderr(n int) []string {
	return c.stderr.RecentLines(n)
}

// splitLines splits on '\n' and drops empty lines.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
