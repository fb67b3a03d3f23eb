package config

import (
	"bytes"
	"flag"
	"io"
	"strings"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("go-monitoring-agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m0s", "duration"},
		{"duration millis", "250ms", "duration"},
		{"address", "0.0.0.0:17091", "string"},
		{"path", "/etc/checks.yaml", "string"},
		{"empty", "", "string"},
		{"zero", "0", "int"},
		{"negative int", "-1", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{
				Name:     "test",
				DefValue: tc.defValue,
			}
			result := flagType(f)
			if result != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, result, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MetricsAddr != "0.0.0.0:17091" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, "0.0.0.0:17091")
	}
	if !cfg.WatchConfig {
		t.Error("WatchConfig should be true by default")
	}
	if cfg.TUIEnabled {
		t.Error("TUIEnabled should be false by default")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Errorf("log = %s/%s, want json/info", cfg.LogFormat, cfg.LogLevel)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() should be valid: %v", err)
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, cfg *Config) {
				if cfg.ConfigFile != DefaultConfig().ConfigFile {
					t.Errorf("ConfigFile = %q", cfg.ConfigFile)
				}
			},
		},
		{
			name: "positional checks file",
			args: []string{"-v", "/tmp/checks.yaml"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.ConfigFile != "/tmp/checks.yaml" {
					t.Errorf("ConfigFile = %q, want /tmp/checks.yaml", cfg.ConfigFile)
				}
				if !cfg.Verbose {
					t.Error("Verbose should be set")
				}
			},
		},
		{
			name: "all options",
			args: []string{
				"-config", "a.yaml", "-watch=false", "-reload-debounce", "1s",
				"-lock-file", "/run/agent.lock", "-shutdown-timeout", "5s",
				"-export-file", "-", "-metrics", "127.0.0.1:9000",
				"-log-format", "text", "-log-level", "debug", "-log-file", "agent.log",
				"--check", "--print-config", "--skip-preflight",
			},
			check: func(t *testing.T, cfg *Config) {
				want := &Config{
					ConfigFile:      "a.yaml",
					WatchConfig:     false,
					ReloadDebounce:  time.Second,
					LockFile:        "/run/agent.lock",
					ShutdownTimeout: 5 * time.Second,
					ExportFile:      "-",
					MetricsAddr:     "127.0.0.1:9000",
					LogFormat:       "text",
					LogLevel:        "debug",
					LogFile:         "agent.log",
					Check:           true,
					PrintConfig:     true,
					SkipPreflight:   true,
				}
				if *cfg != *want {
					t.Errorf("ParseArgs() = %+v, want %+v", *cfg, *want)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseArgs(newFlagSet(), tt.args)
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	if _, err := ParseArgs(newFlagSet(), []string{"-workers", "10"}); err == nil {
		t.Error("ParseArgs() should reject unknown flags")
	}
}

func TestParseArgs_Usage(t *testing.T) {
	var buf bytes.Buffer
	fs := flag.NewFlagSet("go-monitoring-agent", flag.ContinueOnError)
	fs.SetOutput(&buf)

	if _, err := ParseArgs(fs, []string{"-h"}); err != flag.ErrHelp {
		t.Fatalf("ParseArgs(-h) error = %v, want flag.ErrHelp", err)
	}

	usage := buf.String()
	for _, want := range []string{"Checks File:", "Observability:", "-lock-file string", "-reload-debounce duration", "(default 0.0.0.0:17091)"} {
		if !strings.Contains(usage, want) {
			t.Errorf("usage should contain %q:\n%s", want, usage)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing checks file", func(c *Config) { c.ConfigFile = "" }, "config_file"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "localhost" }, "metrics_addr"},
		{"metrics addr without port", func(c *Config) { c.MetricsAddr = "localhost:" }, "metrics_addr"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"negative debounce", func(c *Config) { c.ReloadDebounce = -time.Second }, "reload_debounce"},
		{"tui with stdout export", func(c *Config) { c.TUIEnabled = true; c.ExportFile = "-" }, "export_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error = %v, want it to mention %s", err, tt.field)
			}
		})
	}
}

func TestValidate_Accepted(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"metrics disabled", func(c *Config) { c.MetricsAddr = "" }},
		{"text upper case", func(c *Config) { c.LogFormat = "TEXT" }},
		{"warning level", func(c *Config) { c.LogLevel = "warning" }},
		{"tui with file export", func(c *Config) { c.TUIEnabled = true; c.ExportFile = "/tmp/batches.prom" }},
		{"ipv6 metrics", func(c *Config) { c.MetricsAddr = "[::1]:17091" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := Validate(cfg); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfigFile = ""
	cfg.LogFormat = "xml"
	cfg.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected multiple errors")
	}

	errStr := err.Error()
	for _, field := range []string{"config_file", "log_format", "shutdown_timeout"} {
		if !strings.Contains(errStr, field) {
			t.Errorf("Error should mention %s", field)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test_field",
		Message: "test message",
	}

	errStr := err.Error()
	if errStr != "test_field: test message" {
		t.Errorf("Error string = %q, want %q", errStr, "test_field: test message")
	}
}
