// Package agent wires the monitoring agent together: checks file, lock file,
// preflight, scheduler, exporter, metrics server, config reload, dashboard
// and signals.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
	"github.com/randomizedcoder/go-monitoring-agent/internal/export"
	"github.com/randomizedcoder/go-monitoring-agent/internal/metrics"
	"github.com/randomizedcoder/go-monitoring-agent/internal/preflight"
	"github.com/randomizedcoder/go-monitoring-agent/internal/process"
	"github.com/randomizedcoder/go-monitoring-agent/internal/scheduler"
	"github.com/randomizedcoder/go-monitoring-agent/internal/tui"
)

// ErrLockedElsewhere is returned when another agent holds the lock file.
var ErrLockedElsewhere = errors.New("lock file held by another agent")

// Options configure an Agent.
type Options struct {
	Config  *config.Config
	Version string
	Logger  *slog.Logger

	// Out receives the banner, preflight results and exit summary.
	// Defaults to stdout.
	Out io.Writer
}

// Agent coordinates all components of one agent run.
type Agent struct {
	config  *config.Config
	version string
	logger  *slog.Logger
	out     io.Writer

	checks     *config.Checks
	lock       *flock.Flock
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	server     *metrics.Server
	writer     *export.Writer
	exportFile *os.File
	sched      *scheduler.Scheduler
}

// New creates an Agent.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Agent{
		config:  opts.Config,
		version: opts.Version,
		logger:  logger,
		out:     out,
	}
}

// Run loads the checks file and schedules its checks until ctx is done, a
// SIGTERM/SIGINT arrives or the dashboard is closed. Diagnostic modes
// return after loading.
func (a *Agent) Run(ctx context.Context) error {
	checks, err := config.LoadChecks(a.config.ConfigFile)
	if err != nil {
		return fmt.Errorf("load %s: %w", a.config.ConfigFile, err)
	}
	a.checks = checks

	if a.config.Check {
		fmt.Fprintf(a.out, "%s: OK, %d services for host %s\n", a.config.ConfigFile, len(checks.Services), checks.Host)
		return nil
	}
	if a.config.PrintConfig {
		return a.printChecks()
	}

	if a.config.LockFile != "" {
		if err := a.acquireLock(); err != nil {
			return err
		}
		defer a.releaseLock()
	}

	if !a.config.SkipPreflight {
		result := preflight.RunAll(checks.MaxConcurrentChecks, PluginExecutables(checks))
		if !a.config.TUIEnabled {
			preflight.PrintResults(a.out, result)
		}
		for _, w := range result.Warnings() {
			a.logger.Warn("preflight_warning", "check", w.Name, "message", w.Message)
		}
		if !result.Passed {
			return errors.New("preflight checks failed (use --skip-preflight to override)")
		}
	}

	if err := a.start(); err != nil {
		a.closeExportFile()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.config.WatchConfig {
		a.watch(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var program *tea.Program
	tuiDone := make(chan struct{})
	if a.config.TUIEnabled {
		program = a.startTUI(tuiDone)
	} else {
		printBanner(a.out, a.config, checks)
	}

	select {
	case sig := <-sigCh:
		a.logger.Info("received_signal", "signal", sig.String())
	case <-tuiDone:
		a.logger.Info("dashboard_closed")
	case <-ctx.Done():
		a.logger.Info("context_cancelled")
	}
	cancel()

	a.shutdown()

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	a.printExitSummary()
	return nil
}

// start brings up the exporter, the scheduler and the metrics server.
func (a *Agent) start() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: a.version,
		Host:    a.checks.Host,
	}, a.registry)

	out, err := a.openExportFile()
	if err != nil {
		return err
	}
	a.writer = export.NewWriter(out, a.logger)

	builder := check.NewDefaultBuilder(check.BuilderConfig{
		Cache:   process.NewArgsCache(),
		Version: a.version,
		Verbose: a.config.Verbose,
		Logger:  a.logger,
	})

	a.sched, err = scheduler.Load(a.checks, a.writer.Export, builder, scheduler.Options{
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if a.config.MetricsAddr != "" {
		a.server = metrics.NewServer(metrics.ServerConfig{
			Addr:     a.config.MetricsAddr,
			Gatherer: a.registry,
			Export:   a.writer,
			Ready:    a.sched.Ready,
		}, a.logger)
		if err := a.server.Start(); err != nil {
			a.sched.Stop()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	return nil
}

// shutdown stops scheduling, waits for running checks and exports what
// they produced.
func (a *Agent) shutdown() {
	a.sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := a.sched.Wait(ctx); err != nil {
		a.logger.Warn("shutdown_incomplete", "error", err, "active", a.sched.Active())
	}
	a.sched.Flush()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
	a.closeExportFile()
}

// watch hands every reload of the checks file to the scheduler.
func (a *Agent) watch(ctx context.Context) {
	w, err := config.NewWatcher(ctx, config.WatcherConfig{
		Path:     a.config.ConfigFile,
		Debounce: a.config.ReloadDebounce,
		Logger:   a.logger,
	})
	if err != nil {
		a.logger.Warn("config_watch_disabled", "error", err)
		return
	}

	go func() {
		for r := range w.Updates {
			a.reload(r)
		}
	}()
}

func (a *Agent) reload(r config.Reload) {
	if r.Err != nil {
		a.logger.Error("config_reload_failed", "path", a.config.ConfigFile, "error", r.Err)
		a.metrics.ConfigReloaded(r.Err)
		return
	}

	err := a.sched.Update(r.Checks)
	a.metrics.ConfigReloaded(err)
	if err != nil {
		a.logger.Error("config_reload_failed", "path", a.config.ConfigFile, "error", err)
		return
	}
	a.logger.Info("config_reloaded",
		"path", a.config.ConfigFile,
		"services", len(r.Checks.Services),
	)
}

func (a *Agent) startTUI(done chan<- struct{}) *tea.Program {
	model := tui.New(tui.Config{
		ConfigFile:  a.config.ConfigFile,
		MetricsAddr: a.config.MetricsAddr,
		Source:      a.sched,
		Summary:     a.metrics,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil {
			a.logger.Error("dashboard_failed", "error", err)
		}
	}()
	return program
}

func (a *Agent) acquireLock() error {
	a.lock = flock.New(a.config.LockFile)
	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", a.config.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockedElsewhere, a.config.LockFile)
	}
	return nil
}

func (a *Agent) releaseLock() {
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("lock_release_failed", "path", a.config.LockFile, "error", err)
	}
}

// openExportFile returns the batch output, nil when batches are only kept
// for /export and the dashboard.
func (a *Agent) openExportFile() (io.Writer, error) {
	switch a.config.ExportFile {
	case "":
		return nil, nil
	case "-":
		return a.out, nil
	}

	f, err := os.OpenFile(a.config.ExportFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	a.exportFile = f
	return f, nil
}

func (a *Agent) closeExportFile() {
	if a.exportFile == nil {
		return
	}
	if err := a.exportFile.Close(); err != nil {
		a.logger.Warn("export_file_close_failed", "error", err)
	}
	a.exportFile = nil
}

func (a *Agent) printChecks() error {
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(a.checks); err != nil {
		return fmt.Errorf("print checks: %w", err)
	}
	return enc.Close()
}

// PluginExecutables returns the programs run by the external checks of c.
// Native checks and unparsable command lines are skipped.
func PluginExecutables(c *config.Checks) []string {
	var out []string
	for _, s := range c.Services {
		if _, err := check.ParseNative(s.CommandLine); !errors.Is(err, check.ErrNotNative) {
			continue
		}
		args, err := process.ParseArgs(s.CommandLine)
		if err != nil {
			continue
		}
		out = append(out, args.Path)
	}
	return out
}

// Scheduler returns the running scheduler, nil before Run.
func (a *Agent) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Metrics returns the metrics collector, nil before Run.
func (a *Agent) Metrics() *metrics.Collector {
	return a.metrics
}
