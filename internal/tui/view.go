package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/scheduler"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderCapacity())

	if m.snap != nil {
		sections = append(sections, m.renderStatusCounts())
		sections = append(sections, m.renderServiceTable())
	}

	if m.statsView {
		sections = append(sections, m.renderStatistics())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	host := "-"
	queued := 0
	if m.snap != nil {
		host = m.snap.Host
		queued = m.snap.Queued
	}

	header := fmt.Sprintf(
		" go-monitoring-agent │ %s │ Active: %d/%d │ Queued: %d │ Elapsed: %s ",
		host,
		m.Active(),
		m.MaxConcurrent(),
		queued,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Capacity
// =============================================================================

func (m Model) renderCapacity() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	bar := RenderProgressBar(m.Utilization(), barWidth)

	var status string
	switch {
	case m.snap == nil:
		status = dimStyle.Render("Waiting for the scheduler...")
	case m.snap.Stopped:
		status = statusWarning.Render("Stopping, waiting for running checks")
	case m.snap.Queued > 0:
		status = GetUtilizationStyle(m.Utilization()).Render(fmt.Sprintf("Ceiling reached, %d checks queued", m.snap.Queued))
	default:
		status = statusOK.Render(fmt.Sprintf("✓ %d services scheduled", len(m.snap.Services)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Admission Slots"),
		bar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Status Counts
// =============================================================================

func (m Model) renderStatusCounts() string {
	counts := m.StatusCounts()

	var parts []string
	for _, s := range []check.Status{check.StatusOK, check.StatusWarning, check.StatusCritical, check.StatusUnknown} {
		parts = append(parts, GetStatusStyle(s).Render(fmt.Sprintf("%s %d", s, counts[s])))
	}

	pending := 0
	for _, s := range m.snap.Services {
		if s.Runs == 0 {
			pending++
		}
	}
	parts = append(parts, mutedStyle.Render(fmt.Sprintf("PENDING %d", pending)))

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Service Status"),
		strings.Join(parts, "   "),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Service Table
// =============================================================================

func (m Model) renderServiceTable() string {
	if len(m.snap.Services) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No services configured."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-20s %-8s %-10s %-8s %-8s %s",
			"Service", "Status", "State", "Runtime", "Last", "Output"),
	)

	maxRows := m.height - 16
	if m.statsView {
		maxRows -= 8
	}
	if maxRows < 5 {
		maxRows = 5
	}

	outputWidth := m.width - 64
	if outputWidth < 10 {
		outputWidth = 10
	}

	now := m.lastUpdate
	var rows []string
	for i, s := range m.snap.Services {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more services", len(m.snap.Services)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}
		rows = append(rows, rowStyle.Render(formatServiceRow(s, now, outputWidth)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Services"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func formatServiceRow(s scheduler.ServiceStatus, now time.Time, outputWidth int) string {
	status := mutedStyle.Render(fmt.Sprintf("%-8s", "PENDING"))
	runtime := "-"
	last := "never"
	output := ""
	if s.Runs > 0 {
		status = StatusLabel(s.Last.Status)
		runtime = formatRuntime(s.Last.Duration())
		last = formatAge(s.Last.End, now)
		output = truncate(s.Last.Description(), outputWidth)
	}

	return fmt.Sprintf("%-20s %s %-10s %-8s %-8s %s",
		truncate(s.Service, 20),
		status,
		s.State.String(),
		runtime,
		last,
		output,
	)
}

// =============================================================================
// Statistics Panel
// =============================================================================

func (m Model) renderStatistics() string {
	var rows []string

	if m.snap != nil {
		rows = append(rows, RenderKeyValue("Runtime p50", formatRuntime(m.snap.RuntimeP50)))
		rows = append(rows, RenderKeyValue("Runtime p95", formatRuntime(m.snap.RuntimeP95)))
		rows = append(rows, RenderKeyValue("Runtime p99", formatRuntime(m.snap.RuntimeP99)))
	}

	if s := m.summary; s != nil {
		rows = append(rows,
			RenderKeyValueWide("Checks dispatched", formatNumber(s.TotalDispatched)),
			RenderKeyValueWide("Checks completed", formatNumber(s.TotalCompleted)),
			RenderKeyValueWide("Timeouts", formatNumber(s.TotalTimeouts)),
			RenderKeyValueWide("Spawn failures", formatNumber(s.TotalSpawnFailed)),
			RenderKeyValueWide("Discarded (reload)", formatNumber(s.TotalDiscarded)),
			RenderKeyValueWide("Batches exported", formatNumber(s.TotalBatches)),
			RenderKeyValueWide("Peak active", fmt.Sprintf("%d", s.PeakActive)),
		)
	}

	if len(rows) == 0 {
		rows = append(rows, dimStyle.Render("No statistics yet."))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Statistics")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle statistics",
		"r: refresh",
	}

	source := m.configFile
	if m.metricsAddr != "" {
		source += " │ metrics " + m.metricsAddr
	}
	maxLen := m.width - 50
	if maxLen > 10 {
		source = truncate(source, maxLen)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(source)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
