// Package scheduler runs the checks of a configuration on their intervals.
//
// Checks are spread evenly over the check interval at load time, dispatched
// in due order under a global concurrency ceiling and re-armed on a fixed
// phase after each completion. Completed results accumulate in an export
// batch that is handed to the exporter on every export period.
//
// The scheduler stays reachable from every pending check callback, so it
// lives until the last in-flight run has completed, whatever the caller
// does with its own reference.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
	"github.com/randomizedcoder/go-monitoring-agent/internal/export"
	"github.com/randomizedcoder/go-monitoring-agent/internal/metrics"
)

// DefaultMaxSleep bounds the driver's sleep between two scans.
const DefaultMaxSleep = time.Second

var (
	// ErrStopped is returned by operations on a stopped scheduler.
	ErrStopped = errors.New("scheduler stopped")

	// ErrNoBuilder is returned by Load without a check builder.
	ErrNoBuilder = errors.New("no check builder")

	// ErrNoExporter is returned by Load without an exporter.
	ErrNoExporter = errors.New("no exporter")
)

// Options are optional collaborators of a Scheduler.
type Options struct {
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// MaxSleep bounds the driver's sleep. Defaults to DefaultMaxSleep.
	MaxSleep time.Duration
}

// Scheduler owns the checks of the current configuration.
type Scheduler struct {
	builder  check.Builder
	exporter export.Exporter
	metrics  *metrics.Collector
	logger   *slog.Logger
	maxSleep time.Duration

	mu         sync.Mutex
	conf       *config.Checks
	epoch      uint64
	stats      *check.Statistics
	entries    []*entry
	queue      dueQueue
	waiting    []*entry
	active     int
	batch      *export.Batch
	nextExport time.Time
	stopped    bool

	// exportMu keeps exporter calls sequential.
	exportMu sync.Mutex

	wake      chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	drained   chan struct{}
	stopOnce  sync.Once
	drainOnce sync.Once
}

// Load builds one check per configured service and starts the driver.
// Services whose check cannot be built are logged and skipped.
func Load(cfg *config.Checks, exporter export.Exporter, builder check.Builder, opts Options) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	if err := config.ValidateChecks(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if builder == nil {
		return nil, ErrNoBuilder
	}
	if exporter == nil {
		return nil, ErrNoExporter
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSleep := opts.MaxSleep
	if maxSleep <= 0 {
		maxSleep = DefaultMaxSleep
	}

	s := &Scheduler{
		builder:  builder,
		exporter: exporter,
		metrics:  opts.Metrics,
		logger:   logger,
		maxSleep: maxSleep,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}

	now := time.Now()
	entries, stats := s.build(cfg, 1, now)

	s.mu.Lock()
	s.install(cfg, 1, entries, stats, now)
	s.mu.Unlock()

	s.logger.Info("scheduler_started",
		"host", cfg.Host,
		"services", len(cfg.Services),
		"scheduled", len(entries),
		"max_concurrent_checks", cfg.MaxConcurrentChecks,
		"check_interval", cfg.CheckInterval,
		"export_period", cfg.ExportPeriod,
	)

	go s.run()
	return s, nil
}

// build creates the entries of cfg, staggered evenly over the check
// interval from now.
func (s *Scheduler) build(cfg *config.Checks, epoch uint64, now time.Time) ([]*entry, *check.Statistics) {
	stats := check.NewStatistics()
	entries := make([]*entry, 0, len(cfg.Services))

	var step time.Duration
	if n := len(cfg.Services); n > 0 {
		step = cfg.CheckInterval / time.Duration(n)
	}

	for i, svc := range cfg.Services {
		e := &entry{service: svc.Name, epoch: epoch, index: -1}
		c, err := s.builder(check.Params{
			StartExpected: now.Add(time.Duration(i) * step),
			Interval:      cfg.IntervalFor(svc),
			Service:       svc.Name,
			CommandName:   svc.CommandName,
			CommandLine:   svc.CommandLine,
			Conf:          cfg,
			Handler:       func(_ check.Check, r check.Result) { s.onCompletion(e, r) },
			Stats:         stats,
			Logger:        s.logger,
		})
		if err != nil {
			s.logger.Error("check_build_failed",
				"service", svc.Name,
				"command", svc.CommandLine,
				"error", err,
				"message", fmt.Sprintf("service %s won't be scheduled", svc.Name),
			)
			continue
		}
		e.check = c
		entries = append(entries, e)
	}
	return entries, stats
}

// install makes a built configuration current. Caller holds s.mu.
func (s *Scheduler) install(cfg *config.Checks, epoch uint64, entries []*entry, stats *check.Statistics, now time.Time) *export.Batch {
	var flush *export.Batch
	if s.batch != nil && (s.batch.Host != cfg.Host || s.batch.Exemplars != cfg.UseExemplar) {
		flush = s.takeBatch()
	}
	if s.batch == nil || flush != nil {
		s.batch = export.NewBatch(cfg.Host, cfg.UseExemplar)
	}

	s.conf = cfg
	s.epoch = epoch
	s.stats = stats
	s.entries = entries
	s.waiting = nil
	s.queue = make(dueQueue, 0, len(entries))
	for _, e := range entries {
		s.queue.push(e)
	}
	s.nextExport = now.Add(cfg.ExportPeriod)

	s.metrics.SetConfiguration(cfg.MaxConcurrentChecks, len(entries))
	return flush
}

// run is the driver loop.
func (s *Scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		case <-s.wake:
		}
		timer.Reset(s.tick(time.Now()))
	}
}

// tick dispatches due checks within the ceiling, runs the export cycle and
// returns how long the driver may sleep.
func (s *Scheduler) tick(now time.Time) time.Duration {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.maxSleep
	}

	s.waiting = append(s.waiting, s.queue.popDue(now)...)

	var start []*entry
	for len(s.waiting) > 0 && s.active < s.conf.MaxConcurrentChecks {
		start = append(start, s.waiting[0])
		s.waiting[0] = nil
		s.waiting = s.waiting[1:]
		s.active++
	}

	var flush *export.Batch
	if !now.Before(s.nextExport) {
		flush = s.takeBatch()
		s.nextExport = nextSlot(s.nextExport, s.conf.ExportPeriod, now)
	}

	wait := s.nextExport.Sub(now)
	if next, ok := s.queue.next(); ok && next.Sub(now) < wait {
		wait = next.Sub(now)
	}
	if wait > s.maxSleep {
		wait = s.maxSleep
	}
	if wait < 0 {
		wait = 0
	}

	timeout := s.conf.CheckTimeout
	active, queued := s.active, len(s.waiting)
	s.mu.Unlock()

	s.metrics.SetActive(active)
	s.metrics.SetQueued(queued)

	for _, e := range start {
		s.dispatch(e, timeout)
	}
	s.export(flush)

	return wait
}

func (s *Scheduler) dispatch(e *entry, timeout time.Duration) {
	s.metrics.CheckDispatched()

	if err := e.check.StartCheck(timeout); err != nil {
		s.logger.Error("check_start_failed",
			"service", e.service,
			"error", err,
		)

		s.mu.Lock()
		s.active--
		if e.epoch == s.epoch && !s.stopped {
			e.check.Rearm(time.Now())
			s.queue.push(e)
		}
		s.checkDrained()
		s.mu.Unlock()
		s.notify()
	}
}

// onCompletion stores an accepted result, releases its slot and re-arms the
// check.
func (s *Scheduler) onCompletion(e *entry, r check.Result) {
	now := time.Now()

	s.mu.Lock()
	s.active--
	active := s.active

	if e.epoch != s.epoch {
		s.checkDrained()
		s.mu.Unlock()

		s.logger.Debug("check_completion_stale",
			"service", e.service,
			"epoch", e.epoch,
		)
		s.metrics.CheckDiscarded()
		s.metrics.SetActive(active)
		s.notify()
		return
	}

	var flushes []*export.Batch
	if s.batch.Exemplars && s.batch.Has(e.service) {
		flushes = append(flushes, s.takeBatch())
	}
	s.batch.Add(e.service, r)
	if s.batch.EstimatedSize() > s.conf.MaxBatchBytes {
		flushes = append(flushes, s.takeBatch())
	}

	e.runs++
	e.last = r

	if !s.stopped {
		e.check.Rearm(now)
		s.queue.push(e)
	}
	s.checkDrained()
	s.mu.Unlock()

	s.metrics.CheckCompleted(r.Status.String(), r.Duration(), r.TimedOut, r.Err != nil)
	s.metrics.SetActive(active)

	for _, b := range flushes {
		s.export(b)
	}
	s.notify()
}

// takeBatch swaps in an empty batch and returns the current one, or nil if
// it holds nothing. Caller holds s.mu.
func (s *Scheduler) takeBatch() *export.Batch {
	if s.batch == nil || s.batch.Empty() {
		return nil
	}
	b := s.batch
	s.batch = export.NewBatch(b.Host, b.Exemplars)
	return b
}

func (s *Scheduler) export(b *export.Batch) {
	if b == nil {
		return
	}

	s.exportMu.Lock()
	s.exporter(b)
	s.exportMu.Unlock()

	s.metrics.BatchExported(b.Len())
	s.logger.Debug("export_batch_flushed",
		"host", b.Host,
		"services", b.Len(),
		"bytes", b.EstimatedSize(),
	)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// checkDrained closes drained once stopped with nothing in flight. Caller
// holds s.mu.
func (s *Scheduler) checkDrained() {
	if s.stopped && s.active <= 0 {
		s.drainOnce.Do(func() { close(s.drained) })
	}
}

// Stop ends dispatching. In-flight runs complete and are stored but not
// re-armed. Safe to call several times from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.waiting = nil
		s.queue = nil
		active := s.active
		s.checkDrained()
		s.mu.Unlock()

		close(s.stopCh)
		s.logger.Info("scheduler_stopped", "in_flight", active)
	})
}

// Wait blocks until the scheduler is stopped and every in-flight run has
// completed, or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush exports the pending batch immediately. It is a no-op when nothing
// completed since the last export.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	b := s.takeBatch()
	s.mu.Unlock()
	s.export(b)
}

// Update replaces the configuration. New checks are built and staggered
// from now; runs of the old configuration still in flight release their
// slot on completion but their results are dropped.
func (s *Scheduler) Update(cfg *config.Checks) error {
	if cfg == nil {
		return errors.New("nil configuration")
	}
	if err := config.ValidateChecks(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.conf.Equal(cfg) {
		s.mu.Unlock()
		s.logger.Debug("scheduler_config_unchanged")
		return nil
	}
	epoch := s.epoch + 1
	s.mu.Unlock()

	now := time.Now()
	entries, stats := s.build(cfg, epoch, now)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if epoch <= s.epoch {
		s.mu.Unlock()
		return errors.New("concurrent configuration update")
	}
	flush := s.install(cfg, epoch, entries, stats, now)
	s.mu.Unlock()

	s.export(flush)
	s.logger.Info("scheduler_config_updated",
		"host", cfg.Host,
		"services", len(cfg.Services),
		"scheduled", len(entries),
	)
	s.notify()
	return nil
}

// Config returns the current configuration.
func (s *Scheduler) Config() *config.Checks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

// Statistics returns the statistics of the current configuration.
func (s *Scheduler) Statistics() *check.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Active returns the number of runs in flight.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Ready reports whether the scheduler is dispatching.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// nextSlot returns the first slot of the phase of prev after now.
func nextSlot(prev time.Time, period time.Duration, now time.Time) time.Time {
	next := prev.Add(period)
	if !next.After(now) {
		missed := now.Sub(next)/period + 1
		next = next.Add(missed * period)
	}
	return next
}

// ServiceStatus is a point-in-time view of one scheduled service.
type ServiceStatus struct {
	Service     string
	CommandName string
	CommandLine string
	State       check.State
	NextDue     time.Time
	Runs        int64

	// Last is the latest stored result. Zero until the first completion.
	Last check.Result
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Host          string
	Active        int
	Queued        int
	MaxConcurrent int
	Stopped       bool
	Services      []ServiceStatus

	RuntimeP50 time.Duration
	RuntimeP95 time.Duration
	RuntimeP99 time.Duration
}

// Snapshot returns the current state of every scheduled service, sorted by
// service name.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Host:          s.conf.Host,
		Active:        s.active,
		Queued:        len(s.waiting),
		MaxConcurrent: s.conf.MaxConcurrentChecks,
		Stopped:       s.stopped,
		Services:      make([]ServiceStatus, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		snap.Services = append(snap.Services, ServiceStatus{
			Service:     e.service,
			CommandName: e.check.CommandName(),
			CommandLine: e.check.CommandLine(),
			State:       e.check.State(),
			NextDue:     e.check.StartExpected(),
			Runs:        e.runs,
			Last:        e.last,
		})
	}
	stats := s.stats
	s.mu.Unlock()

	sort.Slice(snap.Services, func(i, j int) bool {
		return snap.Services[i].Service < snap.Services[j].Service
	})

	snap.RuntimeP50 = stats.RuntimeQuantile(0.50)
	snap.RuntimeP95 = stats.RuntimeQuantile(0.95)
	snap.RuntimeP99 = stats.RuntimeQuantile(0.99)
	return snap
}
