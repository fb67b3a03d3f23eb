package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to zero values of a checks file.
const (
	DefaultCheckInterval       = 60 * time.Second
	DefaultExportPeriod        = time.Second
	DefaultMaxConcurrentChecks = 10
	DefaultCheckTimeout        = 30 * time.Second
	DefaultMaxBatchBytes       = 2 * 1024 * 1024
)

// Service describes one monitored service and the command that checks it.
type Service struct {
	Name        string `yaml:"service" json:"service"`
	CommandName string `yaml:"command_name" json:"command_name"`
	CommandLine string `yaml:"command_line" json:"command_line"`

	// CheckInterval overrides the global interval when positive.
	CheckInterval time.Duration `yaml:"check_interval,omitempty" json:"check_interval,omitempty"`
}

// Checks is the check configuration of one run. A value is never modified
// once handed to a scheduler; a reload builds a new one.
type Checks struct {
	Host                string        `yaml:"host" json:"host"`
	CheckInterval       time.Duration `yaml:"check_interval" json:"check_interval"`
	ExportPeriod        time.Duration `yaml:"export_period" json:"export_period"`
	MaxConcurrentChecks int           `yaml:"max_concurrent_checks" json:"max_concurrent_checks"`
	CheckTimeout        time.Duration `yaml:"check_timeout" json:"check_timeout"`
	UseExemplar         bool          `yaml:"use_exemplar" json:"use_exemplar"`
	MaxBatchBytes       int           `yaml:"max_batch_bytes" json:"max_batch_bytes"`
	Services            []Service     `yaml:"services" json:"services"`
}

// DefaultChecks returns an empty configuration for the local host.
func DefaultChecks() *Checks {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	return &Checks{
		Host:                hostname,
		CheckInterval:       DefaultCheckInterval,
		ExportPeriod:        DefaultExportPeriod,
		MaxConcurrentChecks: DefaultMaxConcurrentChecks,
		CheckTimeout:        DefaultCheckTimeout,
		MaxBatchBytes:       DefaultMaxBatchBytes,
	}
}

// LoadChecks reads a YAML checks file.
func LoadChecks(path string) (*Checks, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checks: %w", err)
	}
	return ParseChecks(content)
}

// ParseChecks decodes a YAML document on top of DefaultChecks. Durations are
// written as Go duration strings ("10s", "1m30s").
func ParseChecks(content []byte) (*Checks, error) {
	c := DefaultChecks()
	if err := yaml.Unmarshal(content, c); err != nil {
		return nil, fmt.Errorf("parse checks: %w", err)
	}
	c.applyDefaults()

	if err := ValidateChecks(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Checks) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.ExportPeriod <= 0 {
		c.ExportPeriod = DefaultExportPeriod
	}
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = DefaultMaxConcurrentChecks
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	for i := range c.Services {
		if c.Services[i].CommandName == "" {
			c.Services[i].CommandName = c.Services[i].Name
		}
	}
}

// IntervalFor returns the check interval of a service.
func (c *Checks) IntervalFor(s Service) time.Duration {
	if s.CheckInterval > 0 {
		return s.CheckInterval
	}
	if c.CheckInterval > 0 {
		return c.CheckInterval
	}
	return DefaultCheckInterval
}

// Equal reports whether two configurations would schedule the same checks.
func (c *Checks) Equal(o *Checks) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Host != o.Host ||
		c.CheckInterval != o.CheckInterval ||
		c.ExportPeriod != o.ExportPeriod ||
		c.MaxConcurrentChecks != o.MaxConcurrentChecks ||
		c.CheckTimeout != o.CheckTimeout ||
		c.UseExemplar != o.UseExemplar ||
		c.MaxBatchBytes != o.MaxBatchBytes ||
		len(c.Services) != len(o.Services) {
		return false
	}
	for i := range c.Services {
		if c.Services[i] != o.Services[i] {
			return false
		}
	}
	return true
}

// ValidateChecks checks a configuration for errors.
func ValidateChecks(c *Checks) error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "host",
			Message: "must not be empty",
		})
	}

	if c.MaxConcurrentChecks < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_concurrent_checks",
			Message: "must be at least 1",
		})
	}

	if c.CheckTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "check_timeout",
			Message: "must be positive",
		})
	}

	if c.ExportPeriod <= 0 {
		errs = append(errs, ValidationError{
			Field:   "export_period",
			Message: "must be positive",
		})
	}

	seen := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		field := fmt.Sprintf("services[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".service",
				Message: "must not be empty",
			})
		} else if seen[s.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".service",
				Message: fmt.Sprintf("duplicate service %q", s.Name),
			})
		}
		seen[s.Name] = true

		if s.CheckInterval < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".check_interval",
				Message: "must not be negative",
			})
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
