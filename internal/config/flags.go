package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(flag.CommandLine, os.Args[1:])
}

// ParseArgs registers the agent flags on fs and parses args. A positional
// argument overrides -config.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, `go-monitoring-agent - scheduled service checks with Prometheus export

Usage:
  go-monitoring-agent [flags] [CHECKS_FILE]

Checks File:
`)
		printFlagCategory(fs, []string{"config", "watch", "reload-debounce"})

		fmt.Fprintf(out, "\nRuntime:\n")
		printFlagCategory(fs, []string{"lock-file", "shutdown-timeout", "export-file"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, []string{"metrics", "v", "log-format", "log-level", "log-file"})

		fmt.Fprintf(out, "\nDashboard:\n")
		printFlagCategory(fs, []string{"tui"})

		fmt.Fprintf(out, "\nDiagnostics:\n")
		printFlagCategory(fs, []string{"check", "print-config", "skip-preflight"})

		fmt.Fprintf(out, `
Flag Convention:
  Single-dash flags (-metrics, -tui) are normal options.
  Double-dash flags (--check, --print-config) are diagnostic modes.

Examples:
  # Run the checks of a file and serve metrics
  go-monitoring-agent /etc/go-monitoring-agent/checks.yaml

  # Live dashboard, batches written to stdout disabled
  go-monitoring-agent -tui -log-file /tmp/agent.log checks.yaml

  # Validate a checks file and exit
  go-monitoring-agent --check checks.yaml

`)
	}

	// Checks file
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to the YAML checks file")
	fs.BoolVar(&cfg.WatchConfig, "watch", cfg.WatchConfig, "Reload the checks file when it changes")
	fs.DurationVar(&cfg.ReloadDebounce, "reload-debounce", cfg.ReloadDebounce, "Quiet period before a changed checks file is reloaded")

	// Runtime
	fs.StringVar(&cfg.LockFile, "lock-file", cfg.LockFile, "Single-instance lock file (empty = no lock)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Maximum time to wait for running checks on shutdown")
	fs.StringVar(&cfg.ExportFile, "export-file", cfg.ExportFile, `Append every exported batch to this file in Prometheus text format ("-" = stdout)`)

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file instead of stderr")

	// Dashboard
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate the checks file and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", cfg.PrintConfig, "Print the loaded checks as YAML and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if rest := fs.Args(); len(rest) >= 1 {
		cfg.ConfigFile = rest[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, names []string) {
	out := fs.Output()
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				printFlag(out, f)
				return
			}
		}
	})
}

func printFlag(out io.Writer, f *flag.Flag) {
	fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
	if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
		fmt.Fprintf(out, " (default %s)", f.DefValue)
	}
	fmt.Fprintln(out)
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if _, err := strconv.Atoi(f.DefValue); err == nil {
		return "int"
	}

	if _, err := time.ParseDuration(f.DefValue); err == nil {
		return "duration"
	}

	return "string"
}
