// Package check defines the schedulable plugins run by the agent.
//
// A Check is bound to one monitored service. Every run increments the
// check's generation; completions and timeouts carry the generation of the
// run they belong to, and anything that does not match the run in flight is
// dropped. The owning scheduler and any pending timer or process callback
// all hold references to a Check, so it lives as long as the longest of
// them.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
)

// ErrAlreadyRunning is returned by StartCheck while a run is in flight.
var ErrAlreadyRunning = errors.New("check already running")

// Check is one schedulable check.
type Check interface {
	Service() string
	CommandName() string
	CommandLine() string
	Interval() time.Duration
	Conf() *config.Checks

	// StartExpected is the next due time.
	StartExpected() time.Time

	// Rearm moves StartExpected forward by whole intervals until it is
	// after now, keeping the original phase.
	Rearm(now time.Time)

	Generation() uint64
	State() State
	LastStart() time.Time

	// StartCheck begins a run and returns without waiting for it.
	StartCheck(timeout time.Duration) error

	// OnCompletion ends the run identified by generation. It returns false
	// when the run is not the one in flight.
	OnCompletion(generation uint64, r Result) bool
}

// CompletionHandler receives every accepted completion.
type CompletionHandler func(c Check, r Result)

// Params are the inputs of a check builder.
type Params struct {
	StartExpected time.Time
	Interval      time.Duration
	Service       string
	CommandName   string
	CommandLine   string
	Conf          *config.Checks
	Handler       CompletionHandler
	Stats         *Statistics
	Logger        *slog.Logger
}

// Builder creates the check of one service.
type Builder func(p Params) (Check, error)

// Base holds the state shared by every check variant.
type Base struct {
	service     string
	commandName string
	commandLine string
	interval    time.Duration
	conf        *config.Checks
	handler     CompletionHandler
	stats       *Statistics
	logger      *slog.Logger

	// self is the variant embedding this Base, handed to the handler.
	self Check

	// onTimeout lets a variant abort its work before the timeout result
	// is delivered.
	onTimeout func()

	mu            sync.Mutex
	startExpected time.Time
	generation    uint64
	running       bool
	expiring      bool
	state         State
	lastStart     time.Time
	timer         *time.Timer
}

func newBase(p Params) *Base {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := p.Stats
	if stats == nil {
		stats = NewStatistics()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = config.DefaultCheckInterval
	}

	return &Base{
		service:       p.Service,
		commandName:   p.CommandName,
		commandLine:   p.CommandLine,
		interval:      interval,
		conf:          p.Conf,
		handler:       p.Handler,
		stats:         stats,
		logger:        logger,
		startExpected: p.StartExpected,
	}
}

func (b *Base) Service() string         { return b.service }
func (b *Base) CommandName() string     { return b.commandName }
func (b *Base) CommandLine() string     { return b.commandLine }
func (b *Base) Interval() time.Duration { return b.interval }
func (b *Base) Conf() *config.Checks    { return b.conf }
func (b *Base) Stats() *Statistics      { return b.stats }

// StartExpected returns the next due time.
func (b *Base) StartExpected() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startExpected
}

// Rearm moves the due time to the first slot of the check's phase after now.
func (b *Base) Rearm(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.startExpected.Add(b.interval)
	if !next.After(now) {
		missed := now.Sub(next)/b.interval + 1
		next = next.Add(missed * b.interval)
	}
	b.startExpected = next
	b.state = StateIdle
}

// Generation returns the index of the latest run.
func (b *Base) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// State returns the current run state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastStart returns when the latest run started.
func (b *Base) LastStart() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStart
}

// begin opens a new run and arms its timeout. The returned generation must
// be passed back to OnCompletion.
func (b *Base) begin(timeout time.Duration) (uint64, error) {
	now := time.Now()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	b.generation++
	gen := b.generation
	b.running = true
	b.expiring = false
	b.state = StateDispatched
	b.lastStart = now
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() { b.expire(gen) })
	}
	b.mu.Unlock()

	b.stats.RecordStart(b.commandName, now)

	if b.logger.Enabled(context.Background(), slog.LevelDebug) {
		b.logger.Debug("check_started",
			"service", b.service,
			"command", b.commandLine,
			"generation", gen,
		)
	}
	return gen, nil
}

// expire completes run gen with a timeout result if it is still in flight.
// From here on only the timeout result can complete the run, so a process
// exiting from the kill cannot take its place.
func (b *Base) expire(gen uint64) {
	b.mu.Lock()
	current := b.running && b.generation == gen
	if current {
		b.expiring = true
	}
	b.mu.Unlock()
	if !current {
		return
	}

	b.logger.Warn("check_timeout",
		"service", b.service,
		"command", b.commandLine,
		"generation", gen,
	)

	if b.onTimeout != nil {
		b.onTimeout()
	}

	b.complete(gen, Result{
		Status:   StatusUnknown,
		Outputs:  []string{fmt.Sprintf("Timeout at execution of %s", b.commandLine)},
		TimedOut: true,
		ExitCode: -1,
	})
}

// OnCompletion delivers the result of run gen to the handler, unless gen is
// stale or already completed.
func (b *Base) OnCompletion(gen uint64, r Result) bool {
	return b.complete(gen, r)
}

func (b *Base) complete(gen uint64, r Result) bool {
	now := time.Now()

	b.mu.Lock()
	if !b.running || gen != b.generation || (b.expiring && !r.TimedOut) {
		current := b.generation
		b.mu.Unlock()
		b.logger.Debug("check_completion_discarded",
			"service", b.service,
			"generation", gen,
			"current_generation", current,
		)
		return false
	}
	b.running = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if r.TimedOut {
		b.state = StateTimedOut
	} else {
		b.state = StateCompleted
	}
	r.Start = b.lastStart
	if r.End.IsZero() || r.End.Before(r.Start) {
		r.End = now
	}
	handler := b.handler
	self := b.self
	b.mu.Unlock()

	b.stats.RecordEnd(b.commandName, r.Duration())

	if handler != nil {
		handler(self, r)
	}
	return true
}
