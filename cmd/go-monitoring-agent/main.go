// Package main provides the go-monitoring-agent CLI entry point.
//
// go-monitoring-agent runs monitoring plugins and native checks on a fixed
// schedule and exports their status and performance data in the Prometheus
// text format.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-monitoring-agent/internal/agent"
	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
	"github.com/randomizedcoder/go-monitoring-agent/internal/logging"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-monitoring-agent
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-monitoring-agent %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()
	logging.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"config_file", cfg.ConfigFile,
		"metrics_addr", cfg.MetricsAddr,
		"export_file", cfg.ExportFile,
		"watch", cfg.WatchConfig,
	)

	a := agent.New(agent.Options{
		Config:  cfg,
		Version: version,
		Logger:  logger,
	})
	if err := a.Run(context.Background()); err != nil {
		logger.Error("agent_failed", "error", err)
		if errors.Is(err, agent.ErrLockedElsewhere) || cfg.TUIEnabled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// newLogger builds the process logger. With the dashboard enabled, logs go
// to the log file or nowhere, so they do not tear the screen.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	noop := func() {}

	if cfg.LogFile == "" {
		if cfg.TUIEnabled {
			return logging.Discard(), noop, nil
		}
		return logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose), noop, nil
	}

	f, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, noop, err
	}
	logger := logging.New(logging.Options{
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Verbose: cfg.Verbose,
		Output:  f,
	})
	return logger, func() { _ = f.Close() }, nil
}
