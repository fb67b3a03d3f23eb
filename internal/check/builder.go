package check

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"

	"github.com/randomizedcoder/go-monitoring-agent/internal/process"
)

// BuilderConfig configures NewDefaultBuilder.
type BuilderConfig struct {
	// Cache shares parsed command lines between reloads.
	Cache *process.ArgsCache

	// Version is reported by the health check.
	Version string

	// Verbose logs every stderr line of external plugins.
	Verbose bool

	// ProcRoot is where cpu checks read stat from. Defaults to /proc.
	ProcRoot string

	Logger *slog.Logger
}

// NewDefaultBuilder returns a Builder that creates native checks for JSON
// command lines and ExecChecks otherwise. A native definition that cannot
// be built becomes a DummyCheck reporting the error.
func NewDefaultBuilder(cfg BuilderConfig) Builder {
	if cfg.Cache == nil {
		cfg.Cache = process.NewArgsCache()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = procfs.DefaultMountPoint
	}

	return func(p Params) (Check, error) {
		if p.Logger == nil {
			p.Logger = cfg.Logger
		}

		def, err := ParseNative(p.CommandLine)
		if errors.Is(err, ErrNotNative) {
			c, err := NewExecCheck(p, cfg.Cache, cfg.Verbose)
			if err != nil {
				return nil, err
			}
			return c, nil
		}

		var c Check
		if err == nil {
			c, err = buildNative(p, def, cfg)
		}
		if err != nil {
			logger := p.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("native_check_invalid",
				"service", p.Service,
				"command", p.CommandLine,
				"error", err,
			)
			return NewDummyCheck(p, fmt.Sprintf(
				"unable to execute native check %s , output error : %v", p.CommandLine, err)), nil
		}
		return c, nil
	}
}

func buildNative(p Params, def *NativeDefinition, cfg BuilderConfig) (Check, error) {
	var (
		c   Check
		err error
	)
	switch def.Check {
	case KindHealth:
		c, err = NewHealthCheck(p, def, cfg.Version)
	case KindCPU:
		var fs procfs.FS
		if fs, err = procfs.NewFS(cfg.ProcRoot); err == nil {
			c, err = NewCPUCheck(p, def, fs)
		}
	case KindSimulate:
		c, err = NewSimulatedCheck(p, def)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownNativeCheck, def.Check)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
