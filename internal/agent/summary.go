package agent

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/config"
)

// printBanner prints the startup banner.
func printBanner(out io.Writer, cfg *config.Config, checks *config.Checks) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║                      go-monitoring-agent                          ║")
	fmt.Fprintln(out, "║          Scheduled Service Checks with Prometheus Export          ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Host:        %s\n", checks.Host)
	fmt.Fprintf(out, "  Services:    %d every %s (max %d concurrent, timeout %s)\n",
		len(checks.Services), checks.CheckInterval, checks.MaxConcurrentChecks, checks.CheckTimeout)
	fmt.Fprintf(out, "  Export:      every %s", checks.ExportPeriod)
	if checks.UseExemplar {
		fmt.Fprint(out, " (exemplars)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Checks file: %s\n", cfg.ConfigFile)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(out, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	fmt.Fprintln(out)
}

// printExitSummary prints a summary of the agent run.
func (a *Agent) printExitSummary() {
	summary := a.metrics.GenerateSummary()
	out := a.out

	fmt.Fprintln(out)
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(out, "                    go-monitoring-agent Exit Summary")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(out, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(out, "Peak Active Checks:     %d\n", summary.PeakActive)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Checks:")
	fmt.Fprintf(out, "  Dispatched:           %d\n", summary.TotalDispatched)
	fmt.Fprintf(out, "  Completed:            %d\n", summary.TotalCompleted)
	fmt.Fprintf(out, "  Timeouts:             %d\n", summary.TotalTimeouts)
	fmt.Fprintf(out, "  Spawn Failures:       %d\n", summary.TotalSpawnFailed)
	fmt.Fprintf(out, "  Discarded (reload):   %d\n", summary.TotalDiscarded)
	fmt.Fprintf(out, "  Batches Exported:     %d\n", summary.TotalBatches)
	fmt.Fprintln(out)

	if len(summary.StatusCounts) > 0 {
		fmt.Fprintln(out, "Completions by Status:")
		statuses := make([]string, 0, len(summary.StatusCounts))
		for s := range summary.StatusCounts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(out, "  %-20s  %d\n", s, summary.StatusCounts[s])
		}
		fmt.Fprintln(out)
	}

	if summary.DurationP50 > 0 || summary.DurationP95 > 0 {
		fmt.Fprintln(out, "Runtime Distribution:")
		fmt.Fprintf(out, "  P50 (median):         %s\n", formatRuntime(summary.DurationP50))
		fmt.Fprintf(out, "  P95:                  %s\n", formatRuntime(summary.DurationP95))
		fmt.Fprintf(out, "  P99:                  %s\n", formatRuntime(summary.DurationP99))
		fmt.Fprintln(out)
	}

	if a.config.MetricsAddr != "" {
		fmt.Fprintf(out, "Metrics endpoint was: http://%s/metrics\n", a.config.MetricsAddr)
	}
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatRuntime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
