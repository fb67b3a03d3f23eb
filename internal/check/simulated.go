package check

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

const defaultSimulatedPerfdata = "rta=0,031ms;200,000;500,000;0; pl=0%;40;80;; rtmax=0,109ms;;;; rtmin=0,011ms;;;;"

// SimulatedArgs configure a SimulatedCheck.
type SimulatedArgs struct {
	// Delay is the run time in seconds.
	Delay    flexNumber `json:"delay"`
	Status   flexNumber `json:"status"`
	Output   string     `json:"output"`
	Perfdata *string    `json:"perfdata"`
}

// SimulatedCheck completes with a configured result after a delay, without
// spawning anything. It is used for load tests of the scheduler.
type SimulatedCheck struct {
	*Base

	delay  time.Duration
	status Status
	output string
	perfs  string

	mu    sync.Mutex
	timer *time.Timer
}

// NewSimulatedCheck creates a simulated check. def may be nil for defaults.
func NewSimulatedCheck(p Params, def *NativeDefinition) (*SimulatedCheck, error) {
	var args SimulatedArgs
	if def != nil {
		if err := def.decodeArgs(&args); err != nil {
			return nil, err
		}
	}
	if args.Status > flexNumber(StatusUnknown) {
		return nil, fmt.Errorf("simulate args: status %v out of range 0..3", float64(args.Status))
	}

	c := &SimulatedCheck{
		Base:   newBase(p),
		delay:  time.Duration(float64(args.Delay) * float64(time.Second)),
		status: Status(args.Status),
		output: args.Output,
		perfs:  defaultSimulatedPerfdata,
	}
	if c.output == "" {
		c.output = "Command OK: " + p.CommandLine
	}
	if args.Perfdata != nil {
		c.perfs = *args.Perfdata
	}
	c.self = c
	c.onTimeout = c.stop
	return c, nil
}

// StartCheck schedules the completion after the configured delay.
func (c *SimulatedCheck) StartCheck(timeout time.Duration) error {
	gen, err := c.begin(timeout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.timer = time.AfterFunc(c.delay, func() {
		var perfs []perfdata.Perfdata
		if p := strings.TrimSpace(c.perfs); p != "" {
			perfs = perfdata.Parse(p, c.logger)
		}
		c.OnCompletion(gen, Result{
			Status:   c.status,
			Outputs:  []string{c.output},
			Perfdata: perfs,
			ExitCode: int(c.status),
		})
	})
	c.mu.Unlock()
	return nil
}

func (c *SimulatedCheck) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}
