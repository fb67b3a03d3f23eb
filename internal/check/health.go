package check

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

// HealthThresholds are the limits of the health check, in seconds. Zero
// disables a limit.
type HealthThresholds struct {
	WarningInterval  flexNumber `json:"warning-interval"`
	CriticalInterval flexNumber `json:"critical-interval"`
	WarningRuntime   flexNumber `json:"warning-runtime"`
	CriticalRuntime  flexNumber `json:"critical-runtime"`
}

// HealthCheck reports on the agent itself: how long checks take and how
// regularly they run.
type HealthCheck struct {
	*Base

	thresholds HealthThresholds
	version    string

	mu      sync.Mutex
	measure *time.Timer
}

// NewHealthCheck creates a health check from a native definition.
func NewHealthCheck(p Params, def *NativeDefinition, version string) (*HealthCheck, error) {
	c := &HealthCheck{
		Base:    newBase(p),
		version: version,
	}
	if def != nil {
		if err := def.decodeArgs(&c.thresholds); err != nil {
			return nil, err
		}
	}
	c.self = c
	c.onTimeout = c.stopMeasure
	return c, nil
}

// StartCheck waits half a period so the statistics cover recent runs, then
// computes the report.
func (c *HealthCheck) StartCheck(timeout time.Duration) error {
	gen, err := c.begin(timeout)
	if err != nil {
		return err
	}

	wait := c.interval / 2
	if timeout > 0 && timeout/2 < wait {
		wait = timeout / 2
	}

	c.mu.Lock()
	c.measure = time.AfterFunc(wait, func() {
		status, output, perfs := c.Compute()
		c.OnCompletion(gen, Result{
			Status:   status,
			Outputs:  []string{output},
			Perfdata: perfs,
			ExitCode: int(status),
		})
	})
	c.mu.Unlock()
	return nil
}

func (c *HealthCheck) stopMeasure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.measure != nil {
		c.measure.Stop()
	}
}

// Compute evaluates the shared statistics against the thresholds.
func (c *HealthCheck) Compute() (Status, string, []perfdata.Perfdata) {
	byDuration := c.stats.OrderedByDuration()
	if len(byDuration) == 0 {
		return StatusUnknown, "UNKNOWN: No check yet performed", nil
	}
	byInterval := c.stats.OrderedByInterval()

	var total int64
	for _, s := range byDuration {
		total += seconds(s.LastDuration)
	}

	status := StatusOK
	written := make(map[string]bool)
	appendState := func(st Status, out *strings.Builder, s CommandStats) {
		if written[s.CommandName] {
			return
		}
		written[s.CommandName] = true
		if out.Len() == 0 {
			out.WriteString(st.String())
			out.WriteString(": ")
		} else {
			out.WriteString(", ")
		}
		if st > status {
			status = st
		}
		fmt.Fprintf(out, "%s runtime:%ds interval:%ds",
			s.CommandName, seconds(s.LastDuration), seconds(s.LastInterval))
	}

	// Walk from the largest value down while it exceeds the limit.
	overLimit := func(st Status, out *strings.Builder, sorted []CommandStats, limit flexNumber, value func(CommandStats) time.Duration) {
		if limit <= 0 {
			return
		}
		threshold := time.Duration(float64(limit) * float64(time.Second))
		for i := len(sorted) - 1; i >= 0 && value(sorted[i]) > threshold; i-- {
			appendState(st, out, sorted[i])
		}
	}
	duration := func(s CommandStats) time.Duration { return s.LastDuration }
	interval := func(s CommandStats) time.Duration { return s.LastInterval }

	var critical, warning strings.Builder
	overLimit(StatusCritical, &critical, byDuration, c.thresholds.CriticalRuntime, duration)
	overLimit(StatusCritical, &critical, byInterval, c.thresholds.CriticalInterval, interval)
	overLimit(StatusWarning, &warning, byDuration, c.thresholds.WarningRuntime, duration)
	overLimit(StatusWarning, &warning, byInterval, c.thresholds.WarningInterval, interval)

	intervalPerf := perfdata.New("interval", float64(seconds(byInterval[len(byInterval)-1].LastInterval)), "s")
	setLimits(&intervalPerf, c.thresholds.WarningInterval, c.thresholds.CriticalInterval)
	runtimePerf := perfdata.New("runtime", float64(seconds(byDuration[len(byDuration)-1].LastDuration)), "s")
	setLimits(&runtimePerf, c.thresholds.WarningRuntime, c.thresholds.CriticalRuntime)

	var out strings.Builder
	if status != StatusOK {
		switch {
		case critical.Len() > 0 && warning.Len() > 0:
			out.WriteString(critical.String())
			out.WriteString(" - ")
			out.WriteString(warning.String())
		case critical.Len() > 0:
			out.WriteString(critical.String())
		default:
			out.WriteString(warning.String())
		}
		out.WriteString(" - ")
	} else {
		out.WriteString("OK: ")
	}
	fmt.Fprintf(&out, "Version: %s - Current configuration: %d checks - Average runtime: %ds",
		c.version, len(byDuration), total/int64(len(byDuration)))

	p95 := perfdata.New("runtime_p95", c.stats.RuntimeQuantile(0.95).Seconds(), "s")

	return status, out.String(), []perfdata.Perfdata{intervalPerf, runtimePerf, p95}
}

func setLimits(p *perfdata.Perfdata, warning, critical flexNumber) {
	if warning > 0 {
		p.WarningLow = 0
		p.Warning = float64(warning)
	}
	if critical > 0 {
		p.CriticalLow = 0
		p.Critical = float64(critical)
	}
}

// seconds truncates d to whole seconds.
func seconds(d time.Duration) int64 {
	return int64(math.Trunc(d.Seconds()))
}
