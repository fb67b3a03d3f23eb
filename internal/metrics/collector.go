// Package metrics provides Prometheus metrics for go-monitoring-agent.
//
// The metrics describe the scheduler itself (dispatch, admission, timeouts,
// exports). Check results are exported separately, see package export.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector manages all Prometheus metrics of the agent. A nil *Collector is
// valid and records nothing.
type Collector struct {
	info             *prometheus.GaugeVec
	dispatched       prometheus.Counter
	completed        *prometheus.CounterVec
	timeouts         prometheus.Counter
	discarded        prometheus.Counter
	spawnFailures    prometheus.Counter
	active           prometheus.Gauge
	queued           prometheus.Gauge
	maxConcurrent    prometheus.Gauge
	services         prometheus.Gauge
	duration         prometheus.Histogram
	exportBatches    prometheus.Counter
	exportedServices prometheus.Counter
	reloads          *prometheus.CounterVec

	startTime time.Time

	// For summary generation
	mu               sync.Mutex
	peakActive       int
	totalDispatched  int64
	totalTimeouts    int64
	totalDiscarded   int64
	totalSpawnFailed int64
	totalBatches     int64
	totalCompleted   int64
	statusCounts     map[string]int64

	// Recent run durations for the summary percentiles.
	durations []time.Duration
}

const maxDurationSamples = 10000

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Host    string
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agent_info",
				Help: "Information about the agent (value always 1)",
			},
			[]string{"version", "host"},
		),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_checks_dispatched_total",
			Help: "Total check runs started",
		}),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_checks_completed_total",
				Help: "Total check runs completed, by status",
			},
			[]string{"status"},
		),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_checks_timeouts_total",
			Help: "Total check runs completed by their timeout",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_checks_discarded_total",
			Help: "Completions dropped because their configuration was replaced",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_spawn_failures_total",
			Help: "Total check commands that could not be started",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_active_checks",
			Help: "Check runs currently in flight",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_queued_checks",
			Help: "Due checks waiting for a free slot",
		}),
		maxConcurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_max_concurrent_checks",
			Help: "Configured concurrency ceiling",
		}),
		services: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_scheduled_services",
			Help: "Services scheduled by the current configuration",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_check_duration_seconds",
			Help:    "Check run duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		exportBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_export_batches_total",
			Help: "Total export batches handed to the exporter",
		}),
		exportedServices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_export_services_total",
			Help: "Total service blocks across exported batches",
		}),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_config_reloads_total",
				Help: "Configuration reloads, by result",
			},
			[]string{"result"},
		),
		startTime:    time.Now(),
		statusCounts: make(map[string]int64),
	}

	registry.MustRegister(
		c.info,
		c.dispatched,
		c.completed,
		c.timeouts,
		c.discarded,
		c.spawnFailures,
		c.active,
		c.queued,
		c.maxConcurrent,
		c.services,
		c.duration,
		c.exportBatches,
		c.exportedServices,
		c.reloads,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Host).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// CheckDispatched records a check run start.
func (c *Collector) CheckDispatched() {
	if c == nil {
		return
	}
	c.dispatched.Inc()

	c.mu.Lock()
	c.totalDispatched++
	c.mu.Unlock()
}

// CheckCompleted records a stored completion.
func (c *Collector) CheckCompleted(status string, d time.Duration, timedOut, spawnFailed bool) {
	if c == nil {
		return
	}
	c.completed.WithLabelValues(status).Inc()
	c.duration.Observe(d.Seconds())
	if timedOut {
		c.timeouts.Inc()
	}
	if spawnFailed {
		c.spawnFailures.Inc()
	}

	c.mu.Lock()
	c.statusCounts[status]++
	c.totalCompleted++
	if len(c.durations) >= maxDurationSamples {
		c.durations = append(c.durations[:0], c.durations[maxDurationSamples/2:]...)
	}
	c.durations = append(c.durations, d)
	if timedOut {
		c.totalTimeouts++
	}
	if spawnFailed {
		c.totalSpawnFailed++
	}
	c.mu.Unlock()
}

// CheckDiscarded records a completion dropped after a reload.
func (c *Collector) CheckDiscarded() {
	if c == nil {
		return
	}
	c.discarded.Inc()

	c.mu.Lock()
	c.totalDiscarded++
	c.mu.Unlock()
}

// SetActive updates the in-flight count.
func (c *Collector) SetActive(n int) {
	if c == nil {
		return
	}
	c.active.Set(float64(n))

	c.mu.Lock()
	if n > c.peakActive {
		c.peakActive = n
	}
	c.mu.Unlock()
}

// SetQueued updates the number of due checks waiting for a slot.
func (c *Collector) SetQueued(n int) {
	if c == nil {
		return
	}
	c.queued.Set(float64(n))
}

// SetConfiguration records the ceiling and service count of a configuration.
func (c *Collector) SetConfiguration(maxConcurrent, services int) {
	if c == nil {
		return
	}
	c.maxConcurrent.Set(float64(maxConcurrent))
	c.services.Set(float64(services))
}

// BatchExported records an export.
func (c *Collector) BatchExported(services int) {
	if c == nil {
		return
	}
	c.exportBatches.Inc()
	c.exportedServices.Add(float64(services))

	c.mu.Lock()
	c.totalBatches++
	c.mu.Unlock()
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.reloads.WithLabelValues(result).Inc()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration         time.Duration
	PeakActive       int
	TotalDispatched  int64
	TotalCompleted   int64
	TotalTimeouts    int64
	TotalDiscarded   int64
	TotalSpawnFailed int64
	TotalBatches     int64
	StatusCounts     map[string]int64
	DurationP50      time.Duration
	DurationP95      time.Duration
	DurationP99      time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	if c == nil {
		return &Summary{StatusCounts: map[string]int64{}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:         time.Since(c.startTime),
		PeakActive:       c.peakActive,
		TotalDispatched:  c.totalDispatched,
		TotalCompleted:   c.totalCompleted,
		TotalTimeouts:    c.totalTimeouts,
		TotalDiscarded:   c.totalDiscarded,
		TotalSpawnFailed: c.totalSpawnFailed,
		TotalBatches:     c.totalBatches,
		StatusCounts:     make(map[string]int64),
	}

	for status, count := range c.statusCounts {
		s.StatusCounts[status] = count
	}

	if len(c.durations) > 0 {
		sorted := make([]time.Duration, len(c.durations))
		copy(sorted, c.durations)
		sortDurations(sorted)

		s.DurationP50 = percentile(sorted, 0.50)
		s.DurationP95 = percentile(sorted, 0.95)
		s.DurationP99 = percentile(sorted, 0.99)
	}

	return s
}

// PeakActive returns the peak in-flight count.
func (c *Collector) PeakActive() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// =============================================================================
// Helper Functions
// =============================================================================

// sortDurations sorts a slice of durations in place.
func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
