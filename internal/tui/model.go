package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/metrics"
	"github.com/randomizedcoder/go-monitoring-agent/internal/scheduler"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an updated scheduler snapshot.
type SnapshotMsg struct {
	Snapshot scheduler.Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	configFile  string
	metricsAddr string

	// Current state
	snap       *scheduler.Snapshot
	summary    *metrics.Summary
	startTime  time.Time
	lastUpdate time.Time
	statsView  bool

	// Display options
	width  int
	height int

	source   SnapshotSource
	counters SummarySource

	quitting bool
}

// SnapshotSource provides the scheduler state.
type SnapshotSource interface {
	Snapshot() scheduler.Snapshot
}

// SummarySource provides run counters for the statistics panel. Optional.
type SummarySource interface {
	GenerateSummary() *metrics.Summary
}

// Config holds TUI configuration.
type Config struct {
	ConfigFile  string
	MetricsAddr string
	Source      SnapshotSource
	Summary     SummarySource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		configFile:  cfg.ConfigFile,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		counters:    cfg.Summary,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.statsView = !m.statsView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh()
		return m, tickCmd()

	case SnapshotMsg:
		snap := msg.Snapshot
		m.snap = &snap
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

func (m Model) refresh() Model {
	if m.source != nil {
		snap := m.source.Snapshot()
		m.snap = &snap
	}
	if m.counters != nil {
		m.summary = m.counters.GenerateSummary()
	}
	m.lastUpdate = time.Now()
	return m
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Active returns the number of checks in flight.
func (m Model) Active() int {
	if m.snap == nil {
		return 0
	}
	return m.snap.Active
}

// MaxConcurrent returns the concurrency ceiling.
func (m Model) MaxConcurrent() int {
	if m.snap == nil {
		return 0
	}
	return m.snap.MaxConcurrent
}

// Utilization returns the share of admission slots in use (0.0 to 1.0).
func (m Model) Utilization() float64 {
	if m.MaxConcurrent() == 0 {
		return 0
	}
	return float64(m.Active()) / float64(m.MaxConcurrent())
}

// StatusCounts returns the number of services per last status. Services
// that never completed are not counted.
func (m Model) StatusCounts() map[check.Status]int {
	counts := make(map[check.Status]int, 4)
	if m.snap == nil {
		return counts
	}
	for _, s := range m.snap.Services {
		if s.Runs == 0 {
			continue
		}
		counts[s.Last.Status]++
	}
	return counts
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot sends a snapshot update to the TUI.
func SendSnapshot(p *tea.Program, snap scheduler.Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg{Snapshot: snap})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatRuntime formats a check duration.
func formatRuntime(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// formatAge formats the time since t, or "never" for the zero time.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
