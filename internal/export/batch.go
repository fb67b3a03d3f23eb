// Package export models the batches of check results handed to an exporter
// and renders them in the Prometheus text format.
package export

import (
	"time"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

// StatusMetric is the name of the metric carrying the check status.
const StatusMetric = "status"

// Exporter receives every flushed batch. It is called from the scheduler's
// export path and must not block for long.
type Exporter func(b *Batch)

// Exemplar is a threshold or bound attached to a data point.
type Exemplar struct {
	Label string
	Value float64
}

// DataPoint is one sample of a metric.
type DataPoint struct {
	// Start is when the check run producing the sample started.
	Start time.Time
	Time  time.Time
	Value float64

	// Count is the number of samples merged into this point.
	Count int

	Exemplars []Exemplar
}

// Metric is a named series of one service.
type Metric struct {
	Name        string
	Description string
	Unit        string
	Type        perfdata.DataType
	Points      []DataPoint
}

// ServiceMetrics holds the metrics of one service, in first-seen order.
type ServiceMetrics struct {
	Service string
	Metrics []*Metric

	index map[string]*Metric
}

// Batch is the set of results accumulated between two exports for one host.
type Batch struct {
	Host      string
	Created   time.Time
	Exemplars bool
	Services  []*ServiceMetrics

	index map[string]*ServiceMetrics
	size  int
}

// NewBatch creates an empty batch. With exemplars set every completion adds
// its own data point; otherwise points are merged per metric.
func NewBatch(host string, exemplars bool) *Batch {
	return &Batch{
		Host:      host,
		Created:   time.Now(),
		Exemplars: exemplars,
		index:     make(map[string]*ServiceMetrics),
		size:      len(host) + batchOverhead,
	}
}

// Rough wire sizes used for EstimatedSize.
const (
	batchOverhead    = 64
	serviceOverhead  = 48
	metricOverhead   = 32
	pointOverhead    = 40
	exemplarOverhead = 24
)

// Len returns the number of services in the batch.
func (b *Batch) Len() int {
	return len(b.Services)
}

// Empty reports whether the batch holds no service.
func (b *Batch) Empty() bool {
	return len(b.Services) == 0
}

// Has reports whether service already has results in the batch.
func (b *Batch) Has(service string) bool {
	_, ok := b.index[service]
	return ok
}

// Service returns the metrics of one service.
func (b *Batch) Service(service string) (*ServiceMetrics, bool) {
	sm, ok := b.index[service]
	return sm, ok
}

// EstimatedSize approximates the encoded size of the batch in bytes.
func (b *Batch) EstimatedSize() int {
	return b.size
}

// Add records a completed run of service.
func (b *Batch) Add(service string, r check.Result) {
	sm, ok := b.index[service]
	if !ok {
		sm = &ServiceMetrics{
			Service: service,
			index:   make(map[string]*Metric),
		}
		b.index[service] = sm
		b.Services = append(b.Services, sm)
		b.size += serviceOverhead + len(service)
	}

	status := b.metric(sm, StatusMetric, "", perfdata.Gauge)
	status.Description = r.Description()
	b.addPoint(status, DataPoint{
		Start: r.Start,
		Time:  r.End,
		Value: float64(r.Status),
		Count: 1,
	})

	for _, p := range r.Perfdata {
		m := b.metric(sm, p.Name, p.Unit, p.ValueType)
		point := DataPoint{
			Start: r.Start,
			Time:  r.End,
			Value: p.Value,
			Count: 1,
		}
		if b.Exemplars {
			point.Exemplars = Exemplars(p)
		}
		b.addPoint(m, point)
	}
}

func (b *Batch) metric(sm *ServiceMetrics, name, unit string, t perfdata.DataType) *Metric {
	m, ok := sm.index[name]
	if !ok {
		m = &Metric{Name: name, Unit: unit, Type: t}
		sm.index[name] = m
		sm.Metrics = append(sm.Metrics, m)
		b.size += metricOverhead + len(name) + len(unit)
	}
	return m
}

func (b *Batch) addPoint(m *Metric, p DataPoint) {
	if !b.Exemplars && len(m.Points) > 0 {
		last := &m.Points[len(m.Points)-1]
		p.Count += last.Count
		p.Exemplars = last.Exemplars
		*last = p
		return
	}
	m.Points = append(m.Points, p)
	b.size += pointOverhead + len(p.Exemplars)*exemplarOverhead
	if m.Name == StatusMetric {
		b.size += len(m.Description)
	}
}

// Exemplars returns the thresholds and bounds of p that are set.
func Exemplars(p perfdata.Perfdata) []Exemplar {
	var out []Exemplar
	add := func(label string, v float64) {
		if perfdata.IsSet(v) {
			out = append(out, Exemplar{Label: label, Value: v})
		}
	}

	if p.CriticalMode {
		add("crit_ge", p.Critical)
		add("crit_le", p.CriticalLow)
	} else {
		add("crit_gt", p.Critical)
		add("crit_lt", p.CriticalLow)
	}
	if p.WarningMode {
		add("warn_ge", p.Warning)
		add("warn_le", p.WarningLow)
	} else {
		add("warn_gt", p.Warning)
		add("warn_lt", p.WarningLow)
	}
	add("min", p.Min)
	add("max", p.Max)
	return out
}
