package check

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// CommandStats is the latest activity of one command.
type CommandStats struct {
	CommandName  string
	LastStart    time.Time
	LastDuration time.Duration
	LastInterval time.Duration
}

// Statistics tracks check activity per command name. One instance is
// shared by all checks of a configuration.
type Statistics struct {
	mu       sync.Mutex
	commands map[string]*CommandStats
	runtimes *tdigest.TDigest
	runs     int64
}

// NewStatistics creates an empty statistics store.
func NewStatistics() *Statistics {
	return &Statistics{
		commands: make(map[string]*CommandStats),
		runtimes: tdigest.NewWithCompression(100),
	}
}

// RecordStart records a run start and the interval since the previous one.
func (s *Statistics) RecordStart(command string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.commands[command]
	if !ok {
		cs = &CommandStats{CommandName: command}
		s.commands[command] = cs
	}
	if !cs.LastStart.IsZero() {
		cs.LastInterval = at.Sub(cs.LastStart)
	}
	cs.LastStart = at
}

// RecordEnd records the duration of a finished run.
func (s *Statistics) RecordEnd(command string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.commands[command]
	if !ok {
		cs = &CommandStats{CommandName: command}
		s.commands[command] = cs
	}
	cs.LastDuration = d
	s.runtimes.Add(d.Seconds(), 1)
	s.runs++
}

// Len returns the number of commands with at least one run started.
func (s *Statistics) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// Runs returns the number of completed runs.
func (s *Statistics) Runs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Get returns the stats of one command.
func (s *Statistics) Get(command string) (CommandStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.commands[command]
	if !ok {
		return CommandStats{}, false
	}
	return *cs, true
}

// OrderedByDuration returns a snapshot sorted by ascending last duration.
func (s *Statistics) OrderedByDuration() []CommandStats {
	out := s.snapshot()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastDuration == out[j].LastDuration {
			return out[i].CommandName < out[j].CommandName
		}
		return out[i].LastDuration < out[j].LastDuration
	})
	return out
}

// OrderedByInterval returns a snapshot sorted by ascending last interval.
func (s *Statistics) OrderedByInterval() []CommandStats {
	out := s.snapshot()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastInterval == out[j].LastInterval {
			return out[i].CommandName < out[j].CommandName
		}
		return out[i].LastInterval < out[j].LastInterval
	})
	return out
}

// RuntimeQuantile returns the q-quantile (0..1) of all run durations.
func (s *Statistics) RuntimeQuantile(q float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs == 0 {
		return 0
	}
	return time.Duration(s.runtimes.Quantile(q) * float64(time.Second))
}

func (s *Statistics) snapshot() []CommandStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CommandStats, 0, len(s.commands))
	for _, cs := range s.commands {
		out = append(out, *cs)
	}
	return out
}
