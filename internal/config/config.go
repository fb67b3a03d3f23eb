// Package config provides configuration management for go-monitoring-agent.
//
// Config holds the agent's own options, set from the command line. Checks
// is the check configuration loaded from a YAML file; it is immutable once
// loaded and replaced wholesale on reload.
package config

import "time"

// Config holds all runtime options of the agent.
type Config struct {
	// Checks file
	ConfigFile     string        `json:"config_file"`
	WatchConfig    bool          `json:"watch_config"`
	ReloadDebounce time.Duration `json:"reload_debounce"`

	// Runtime
	LockFile        string        `json:"lock_file"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	ExportFile      string        `json:"export_file"` // "-" = stdout

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"`

	// Dashboard
	TUIEnabled bool `json:"tui_enabled"`

	// Diagnostic modes
	Check         bool `json:"check"`
	PrintConfig   bool `json:"print_config"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ConfigFile:     "/etc/go-monitoring-agent/checks.yaml",
		WatchConfig:    true,
		ReloadDebounce: 250 * time.Millisecond,

		ShutdownTimeout: 30 * time.Second,

		MetricsAddr: "0.0.0.0:17091",
		Verbose:     false,
		LogFormat:   "json",
		LogLevel:    "info",

		TUIEnabled: false,
	}
}
