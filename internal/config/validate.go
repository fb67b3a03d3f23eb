package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ConfigFile == "" {
		errs = append(errs, ValidationError{
			Field:   "config_file",
			Message: "checks file is required",
		})
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be json or text (got %q)", cfg.LogFormat),
		})
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "shutdown_timeout",
			Message: "must be positive",
		})
	}

	if cfg.ReloadDebounce < 0 {
		errs = append(errs, ValidationError{
			Field:   "reload_debounce",
			Message: "must not be negative",
		})
	}

	// The dashboard owns the terminal.
	if cfg.TUIEnabled && cfg.ExportFile == "-" {
		errs = append(errs, ValidationError{
			Field:   "export_file",
			Message: "cannot write batches to stdout while the dashboard is enabled",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateAddr checks that s is a host:port listen address.
func validateAddr(s string) error {
	_, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if port == "" {
		return fmt.Errorf("listen address %q has no port", s)
	}
	return nil
}
