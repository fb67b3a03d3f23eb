package check

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector records the completions delivered to a handler.
type collector struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newCollector() *collector {
	return &collector{ch: make(chan Result, 16)}
}

func (c *collector) handle(_ Check, r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
	c.ch <- r
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func (c *collector) wait(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no completion within 5s")
		return Result{}
	}
}

// manualCheck completes only when the test calls OnCompletion.
type manualCheck struct {
	*Base
}

func newManualCheck(p Params) *manualCheck {
	c := &manualCheck{Base: newBase(p)}
	c.self = c
	return c
}

func (c *manualCheck) StartCheck(timeout time.Duration) error {
	_, err := c.begin(timeout)
	return err
}

func testParams(h CompletionHandler) Params {
	return Params{
		StartExpected: time.Now(),
		Interval:      time.Second,
		Service:       "svc",
		CommandName:   "cmd",
		CommandLine:   "/usr/lib/plugins/check_dummy -o 0",
		Conf:          config.DefaultChecks(),
		Handler:       h,
		Logger:        testLogger(),
	}
}

func TestBase_CompletionAccepted(t *testing.T) {
	col := newCollector()
	c := newManualCheck(testParams(col.handle))

	if err := c.StartCheck(time.Minute); err != nil {
		t.Fatalf("StartCheck() error = %v", err)
	}
	if c.State() != StateDispatched {
		t.Errorf("State() = %v, want dispatched", c.State())
	}

	if !c.OnCompletion(c.Generation(), Result{Status: StatusWarning, Outputs: []string{"WARN - x"}}) {
		t.Fatal("OnCompletion() = false, want true")
	}
	r := col.wait(t)
	if r.Status != StatusWarning {
		t.Errorf("Status = %v, want WARNING", r.Status)
	}
	if r.Start.IsZero() || r.End.Before(r.Start) {
		t.Errorf("Start/End = %v/%v", r.Start, r.End)
	}
	if c.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", c.State())
	}
}

func TestBase_AtMostOneRun(t *testing.T) {
	c := newManualCheck(testParams(nil))
	if err := c.StartCheck(time.Minute); err != nil {
		t.Fatalf("StartCheck() error = %v", err)
	}
	if err := c.StartCheck(time.Minute); err != ErrAlreadyRunning {
		t.Errorf("second StartCheck() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestBase_StaleGenerationDiscarded(t *testing.T) {
	col := newCollector()
	c := newManualCheck(testParams(col.handle))

	_ = c.StartCheck(time.Minute)
	first := c.Generation()
	c.OnCompletion(first, Result{Status: StatusOK})
	col.wait(t)

	_ = c.StartCheck(time.Minute)
	second := c.Generation()
	if second != first+1 {
		t.Fatalf("Generation() = %d, want %d", second, first+1)
	}

	if c.OnCompletion(first, Result{Status: StatusCritical}) {
		t.Error("completion of a previous generation should be discarded")
	}
	if !c.OnCompletion(second, Result{Status: StatusOK}) {
		t.Error("completion of the current generation should be accepted")
	}
	if c.OnCompletion(second, Result{Status: StatusOK}) {
		t.Error("a second completion of the same generation should be discarded")
	}
	col.wait(t)
	if got := col.count(); got != 2 {
		t.Errorf("handler called %d times, want 2", got)
	}
}

func TestBase_Timeout(t *testing.T) {
	col := newCollector()
	c := newManualCheck(testParams(col.handle))
	var hookCalls int
	c.onTimeout = func() { hookCalls++ }

	_ = c.StartCheck(50 * time.Millisecond)
	gen := c.Generation()

	r := col.wait(t)
	if !r.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if r.Status != StatusUnknown {
		t.Errorf("Status = %v, want UNKNOWN", r.Status)
	}
	want := "Timeout at execution of /usr/lib/plugins/check_dummy -o 0"
	if len(r.Outputs) != 1 || r.Outputs[0] != want {
		t.Errorf("Outputs = %q, want [%q]", r.Outputs, want)
	}
	if hookCalls != 1 {
		t.Errorf("timeout hook called %d times, want 1", hookCalls)
	}
	if c.State() != StateTimedOut {
		t.Errorf("State() = %v, want timed_out", c.State())
	}

	// The real completion arriving late is dropped.
	if c.OnCompletion(gen, Result{Status: StatusOK}) {
		t.Error("late completion after timeout should be discarded")
	}
	time.Sleep(20 * time.Millisecond)
	if got := col.count(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestBase_KilledExitDuringTimeout(t *testing.T) {
	col := newCollector()
	c := newManualCheck(testParams(col.handle))

	// The kill makes the process exit at once; its completion reaches the
	// check before the timeout result does.
	var killedAccepted bool
	c.onTimeout = func() {
		killedAccepted = c.OnCompletion(c.Generation(), Result{
			Status:   StatusUnknown,
			Outputs:  []string{"killed"},
			ExitCode: 137,
		})
	}

	_ = c.StartCheck(30 * time.Millisecond)

	r := col.wait(t)
	if killedAccepted {
		t.Error("completion of the killed process should be discarded")
	}
	if !r.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if r.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", r.ExitCode)
	}
	if !strings.HasPrefix(r.Description(), "Timeout at execution of ") {
		t.Errorf("Description() = %q", r.Description())
	}

	time.Sleep(20 * time.Millisecond)
	if got := col.count(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}

	// The next run is not affected by the previous timeout.
	_ = c.StartCheck(time.Second)
	if !c.OnCompletion(c.Generation(), Result{Status: StatusOK}) {
		t.Error("completion of the next run should be accepted")
	}
	if r := col.wait(t); r.TimedOut || r.Status != StatusOK {
		t.Errorf("next run result = %+v, want OK", r)
	}
}

func TestBase_CompletionStopsTimeout(t *testing.T) {
	col := newCollector()
	c := newManualCheck(testParams(col.handle))

	_ = c.StartCheck(50 * time.Millisecond)
	c.OnCompletion(c.Generation(), Result{Status: StatusOK})
	col.wait(t)

	time.Sleep(100 * time.Millisecond)
	if got := col.count(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestBase_Rearm(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval time.Duration
		now      time.Time
		want     time.Time
	}{
		{"on time", 10 * time.Second, t0.Add(2 * time.Second), t0.Add(10 * time.Second)},
		{"exactly at next slot", 10 * time.Second, t0.Add(10 * time.Second), t0.Add(20 * time.Second)},
		{"missed two slots", 10 * time.Second, t0.Add(25 * time.Second), t0.Add(30 * time.Second)},
		{"long run", time.Second, t0.Add(5500 * time.Millisecond), t0.Add(6 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(nil)
			p.StartExpected = t0
			p.Interval = tt.interval
			c := newManualCheck(p)

			c.Rearm(tt.now)
			if got := c.StartExpected(); !got.Equal(tt.want) {
				t.Errorf("StartExpected() = %v, want %v", got, tt.want)
			}
			if c.State() != StateIdle {
				t.Errorf("State() = %v, want idle", c.State())
			}
		})
	}
}

func TestBase_DefaultInterval(t *testing.T) {
	p := testParams(nil)
	p.Interval = 0
	c := newManualCheck(p)
	if c.Interval() != config.DefaultCheckInterval {
		t.Errorf("Interval() = %v, want %v", c.Interval(), config.DefaultCheckInterval)
	}
}

func TestBase_RecordsStatistics(t *testing.T) {
	col := newCollector()
	p := testParams(col.handle)
	p.Stats = NewStatistics()
	c := newManualCheck(p)

	_ = c.StartCheck(time.Minute)
	c.OnCompletion(c.Generation(), Result{Status: StatusOK})
	col.wait(t)

	if _, ok := p.Stats.Get("cmd"); !ok {
		t.Error("statistics should contain the command")
	}
	if p.Stats.Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", p.Stats.Runs())
	}
}

func TestDummyCheck(t *testing.T) {
	col := newCollector()
	c := NewDummyCheck(testParams(col.handle), "broken")

	if err := c.StartCheck(time.Second); err != nil {
		t.Fatalf("StartCheck() error = %v", err)
	}
	r := col.wait(t)
	if r.Status != StatusCritical {
		t.Errorf("Status = %v, want CRITICAL", r.Status)
	}
	if r.Description() != "broken" {
		t.Errorf("Description() = %q, want broken", r.Description())
	}
}

func TestSimulatedCheck(t *testing.T) {
	col := newCollector()
	p := testParams(col.handle)
	p.CommandLine = `{"check":"simulate","args":{"delay":"0.05","status":2,"output":"CRITICAL - down|x=1"}}`
	def, err := ParseNative(p.CommandLine)
	if err != nil {
		t.Fatalf("ParseNative() error = %v", err)
	}
	c, err := NewSimulatedCheck(p, def)
	if err != nil {
		t.Fatalf("NewSimulatedCheck() error = %v", err)
	}

	start := time.Now()
	_ = c.StartCheck(time.Second)
	r := col.wait(t)

	if time.Since(start) < 50*time.Millisecond {
		t.Error("completion arrived before the configured delay")
	}
	if r.Status != StatusCritical {
		t.Errorf("Status = %v, want CRITICAL", r.Status)
	}
	if r.Description() != "CRITICAL - down" {
		t.Errorf("Description() = %q", r.Description())
	}
	if len(r.Perfdata) != 4 {
		t.Errorf("len(Perfdata) = %d, want 4 default metrics", len(r.Perfdata))
	}
}

func TestSimulatedCheck_Defaults(t *testing.T) {
	col := newCollector()
	p := testParams(col.handle)
	c, err := NewSimulatedCheck(p, nil)
	if err != nil {
		t.Fatalf("NewSimulatedCheck() error = %v", err)
	}
	_ = c.StartCheck(time.Second)
	r := col.wait(t)

	if r.Status != StatusOK {
		t.Errorf("Status = %v, want OK", r.Status)
	}
	if want := "Command OK: " + p.CommandLine; r.Description() != want {
		t.Errorf("Description() = %q, want %q", r.Description(), want)
	}
}

func TestSimulatedCheck_TimeoutStopsTimer(t *testing.T) {
	col := newCollector()
	p := testParams(col.handle)
	def, _ := ParseNative(`{"check":"simulate","args":{"delay":5}}`)
	c, err := NewSimulatedCheck(p, def)
	if err != nil {
		t.Fatalf("NewSimulatedCheck() error = %v", err)
	}

	_ = c.StartCheck(50 * time.Millisecond)
	r := col.wait(t)
	if !r.TimedOut {
		t.Error("TimedOut = false, want true")
	}
}

func TestSimulatedCheck_BadStatus(t *testing.T) {
	def, _ := ParseNative(`{"check":"simulate","args":{"status":7}}`)
	if _, err := NewSimulatedCheck(testParams(nil), def); err == nil {
		t.Error("NewSimulatedCheck() should reject status 7")
	}
}
