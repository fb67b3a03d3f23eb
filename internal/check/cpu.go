package check

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

// Fields of a /proc/stat cpu line, in file order.
const (
	cpuUser = iota
	cpuNice
	cpuSystem
	cpuIdle
	cpuIOWait
	cpuIRQ
	cpuSoftIRQ
	cpuSteal
	cpuGuest
	cpuGuestNice
	cpuFields
)

// cpuUsed selects everything but idle time.
const cpuUsed = cpuFields

// cpuAverage keys the all-CPUs line. It sorts after every core.
const cpuAverage int64 = math.MaxInt64

var cpuSummaryLabels = [cpuFields]string{
	", User ", ", Nice ", ", System ", ", Idle ", ", IOWait ",
	", Interrupt ", ", Soft Irq ", ", Steal ", ", Guest ", ", Guest Nice ",
}

var cpuPerfdataNames = [cpuFields]string{
	"user", "nice", "system", "idle", "iowait",
	"interrupt", "softirq", "steal", "guest", "guestnice",
}

// cpuThresholdFields maps the suffix of a threshold argument to the field
// it tests: "warning-core" tests used time, "warning-core-user" user time.
var cpuThresholdFields = map[string]int{
	"":        cpuUsed,
	"-user":   cpuUser,
	"-nice":   cpuNice,
	"-system": cpuSystem,
	"-iowait": cpuIOWait,
	"-guest":  cpuGuest,
}

type cpuThresholdKey struct {
	field   int
	average bool
	status  Status
}

// cpuTimes holds the time counters of one cpu line.
type cpuTimes struct {
	fields [cpuFields]float64
	total  float64
}

func newCPUTimes(s procfs.CPUStat) cpuTimes {
	t := cpuTimes{fields: [cpuFields]float64{
		s.User, s.Nice, s.System, s.Idle, s.Iowait,
		s.IRQ, s.SoftIRQ, s.Steal, s.Guest, s.GuestNice,
	}}
	for _, v := range t.fields {
		t.total += v
	}
	return t
}

func (t cpuTimes) sub(o cpuTimes) cpuTimes {
	for i := range t.fields {
		t.fields[i] -= o.fields[i]
	}
	t.total -= o.total
	return t
}

// ratio returns the share of field in the total time.
func (t cpuTimes) ratio(field int) float64 {
	if t.total <= 0 {
		return 0
	}
	if field == cpuUsed {
		return (t.total - t.fields[cpuIdle]) / t.total
	}
	return t.fields[field] / t.total
}

func (t cpuTimes) describe(out *strings.Builder, cpu int64) {
	if cpu == cpuAverage {
		fmt.Fprintf(out, "CPU(s) average Usage: %.2f%%", t.ratio(cpuUsed)*100)
	} else {
		fmt.Fprintf(out, "CPU'%d' Usage: %.2f%%", cpu, t.ratio(cpuUsed)*100)
	}
	for f := 0; f < cpuFields; f++ {
		fmt.Fprintf(out, "%s%.2f%%", cpuSummaryLabels[f], t.ratio(f)*100)
	}
}

// CPUSnapshot is one reading of /proc/stat, keyed by core number.
type CPUSnapshot map[int64]cpuTimes

// NewCPUSnapshot converts a procfs reading.
func NewCPUSnapshot(s procfs.Stat) CPUSnapshot {
	snap := make(CPUSnapshot, len(s.CPU)+1)
	snap[cpuAverage] = newCPUTimes(s.CPUTotal)
	for i, c := range s.CPU {
		snap[i] = newCPUTimes(c)
	}
	return snap
}

// sub returns the per-core difference s - prev. Cores missing from prev
// are dropped.
func (s CPUSnapshot) sub(prev CPUSnapshot) CPUSnapshot {
	out := make(CPUSnapshot, len(s))
	for i, t := range s {
		if p, ok := prev[i]; ok {
			out[i] = t.sub(p)
		}
	}
	return out
}

// CPUCheck measures CPU usage between two readings of /proc/stat taken one
// second before the run's timeout.
type CPUCheck struct {
	*Base

	fs       procfs.FS
	detailed bool

	// thresholds are percentages.
	thresholds map[cpuThresholdKey]float64

	mu      sync.Mutex
	measure *time.Timer
}

// NewCPUCheck creates a cpu_percentage check reading from fs. Threshold
// arguments are percentages; unknown or non numeric ones are logged and
// ignored.
func NewCPUCheck(p Params, def *NativeDefinition, fs procfs.FS) (*CPUCheck, error) {
	c := &CPUCheck{
		Base:       newBase(p),
		fs:         fs,
		thresholds: make(map[cpuThresholdKey]float64),
	}
	if def != nil {
		var args map[string]json.RawMessage
		if err := def.decodeArgs(&args); err != nil {
			return nil, err
		}
		if err := c.parseArgs(args); err != nil {
			return nil, err
		}
	}
	c.self = c
	c.onTimeout = c.stopMeasure
	return c, nil
}

func (c *CPUCheck) parseArgs(args map[string]json.RawMessage) error {
	for name, raw := range args {
		key := strings.ToLower(name)
		if key == "cpu-detailed" {
			if err := json.Unmarshal(raw, &c.detailed); err != nil {
				return fmt.Errorf("%s args: cpu-detailed: %w", KindCPU, err)
			}
			continue
		}

		tk, ok := parseCPUThreshold(key)
		if !ok {
			c.logger.Error("cpu_check_unknown_parameter",
				"command", c.commandName,
				"parameter", name,
			)
			continue
		}
		var v flexNumber
		if err := json.Unmarshal(raw, &v); err != nil {
			c.logger.Error("cpu_check_bad_parameter",
				"command", c.commandName,
				"parameter", name,
				"value", string(raw),
				"error", err,
			)
			continue
		}
		c.thresholds[tk] = float64(v)
	}
	return nil
}

// parseCPUThreshold decodes names like "critical-average-iowait".
func parseCPUThreshold(name string) (cpuThresholdKey, bool) {
	var k cpuThresholdKey
	switch {
	case strings.HasPrefix(name, "warning-"):
		k.status = StatusWarning
		name = strings.TrimPrefix(name, "warning-")
	case strings.HasPrefix(name, "critical-"):
		k.status = StatusCritical
		name = strings.TrimPrefix(name, "critical-")
	default:
		return k, false
	}
	switch {
	case strings.HasPrefix(name, "core"):
		name = strings.TrimPrefix(name, "core")
	case strings.HasPrefix(name, "average"):
		k.average = true
		name = strings.TrimPrefix(name, "average")
	default:
		return k, false
	}
	field, ok := cpuThresholdFields[name]
	k.field = field
	return k, ok
}

// measureWindow is the time between the two readings.
func measureWindow(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return time.Second
	}
	if w := timeout - time.Second; w > 0 {
		return w
	}
	return timeout / 2
}

// StartCheck takes the first reading and arms the second.
func (c *CPUCheck) StartCheck(timeout time.Duration) error {
	gen, err := c.begin(timeout)
	if err != nil {
		return err
	}

	first, err := c.sample()
	if err != nil {
		go c.fail(gen, err)
		return nil
	}

	c.mu.Lock()
	c.measure = time.AfterFunc(measureWindow(timeout), func() {
		second, err := c.sample()
		if err != nil {
			c.fail(gen, err)
			return
		}
		status, output, perfs := c.Compute(first, second)
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

func (c *CPUCheck) sample() (CPUSnapshot, error) {
	stat, err := c.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read cpu times: %w", err)
	}
	return NewCPUSnapshot(stat), nil
}

func (c *CPUCheck) fail(gen uint64, err error) {
	c.logger.Error("cpu_check_failed",
		"service", c.service,
		"error", err,
	)
	c.OnCompletion(gen, Result{
		Status:   StatusUnknown,
		Outputs:  []string{err.Error()},
		ExitCode: int(StatusUnknown),
	})
}

func (c *CPUCheck) stopMeasure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.measure != nil {
		c.measure.Stop()
	}
}

// Compute evaluates the usage between two readings against the thresholds.
func (c *CPUCheck) Compute(first, second CPUSnapshot) (Status, string, []perfdata.Perfdata) {
	delta := second.sub(first)

	cpus := make([]int64, 0, len(delta))
	for i := range delta {
		cpus = append(cpus, i)
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })

	perCPU := make(map[int64]Status, len(cpus))
	for k, threshold := range c.thresholds {
		for _, i := range cpus {
			if (i == cpuAverage) != k.average {
				continue
			}
			if delta[i].ratio(k.field)*100 > threshold && k.status > perCPU[i] {
				perCPU[i] = k.status
			}
		}
	}

	worst := StatusOK
	for _, st := range perCPU {
		if st > worst {
			worst = st
		}
	}

	var out strings.Builder
	if worst == StatusOK {
		if avg, ok := delta[cpuAverage]; ok {
			fmt.Fprintf(&out, "OK: CPU(s) average usage is %.2f%%", avg.ratio(cpuUsed)*100)
		} else {
			out.WriteString("OK: CPUs usages are ok.")
		}
	} else {
		for _, i := range cpus {
			st := perCPU[i]
			if st == StatusOK {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(st.String())
			out.WriteString(": ")
			delta[i].describe(&out, i)
		}
	}

	var perfs []perfdata.Perfdata
	for _, i := range cpus {
		t := delta[i]
		if !c.detailed {
			name := "cpu.utilization.percentage"
			if i != cpuAverage {
				name = fmt.Sprintf("%d#core.cpu.utilization.percentage", i)
			}
			perfs = append(perfs, c.perfdata(name, cpuUsed, i, t))
			continue
		}

		prefix, suffix := "", "#cpu.utilization.percentage"
		if i != cpuAverage {
			prefix, suffix = fmt.Sprintf("%d~", i), "#core.cpu.utilization.percentage"
		}
		for f := 0; f < cpuFields; f++ {
			perfs = append(perfs, c.perfdata(prefix+cpuPerfdataNames[f]+suffix, f, i, t))
		}
		perfs = append(perfs, c.perfdata(prefix+"used"+suffix, cpuUsed, i, t))
	}

	return worst, out.String(), perfs
}

func (c *CPUCheck) perfdata(name string, field int, cpu int64, t cpuTimes) perfdata.Perfdata {
	p := perfdata.New(name, t.ratio(field)*100, "%")
	p.Min = 0
	p.Max = 100

	average := cpu == cpuAverage
	if w, ok := c.thresholds[cpuThresholdKey{field, average, StatusWarning}]; ok {
		p.WarningLow = 0
		p.Warning = w
	}
	if cr, ok := c.thresholds[cpuThresholdKey{field, average, StatusCritical}]; ok {
		p.CriticalLow = 0
		p.Critical = cr
	}
	return p
}
