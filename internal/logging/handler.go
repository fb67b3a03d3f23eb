package logging

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines kept per service.
	MaxBufferedLines = 100
)

// OutputHandler handles stderr output of a service's check commands.
// It keeps the most recent lines for the dashboard and logs them.
type OutputHandler struct {
	service string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a new output handler for a service.
func NewOutputHandler(service string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		service: service,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleOutput splits a captured stderr buffer into lines.
func (h *OutputHandler) HandleOutput(output []byte) {
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		h.HandleLine(line)
	}
}

// HandleLine processes a single line of check stderr.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "check_stderr",
		"service", h.service,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func (h *OutputHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "command not found") ||
		strings.Contains(lower, "segmentation fault") {
		return slog.LevelError
	}

	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "timeout") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common plugin failures counted for the exit summary.
var ErrorPatterns = []string{
	"No such file",
	"Permission denied",
	"Connection refused",
	"timeout",
	"command not found",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
