package export

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric family names produced by Encode.
const (
	FamilyStatus    = "check_status"
	FamilyPerfdata  = "check_perfdata"
	FamilyThreshold = "check_perfdata_threshold"
	FamilySamples   = "check_perfdata_samples"
)

// Encode converts a batch into Prometheus metric families. Each metric
// becomes one sample timestamped at its latest completion; the samples
// family counts every completion merged into it. A series therefore appears
// once per family even when an exemplar batch holds several points for it.
func Encode(b *Batch) []*dto.MetricFamily {
	if b == nil || b.Empty() {
		return nil
	}

	status := newFamily(FamilyStatus, "Check status (0 ok, 1 warning, 2 critical, 3 unknown)")
	perf := newFamily(FamilyPerfdata, "Performance data reported by checks")
	threshold := newFamily(FamilyThreshold, "Thresholds and bounds attached to performance data")
	samples := newFamily(FamilySamples, "Number of samples merged into a performance data point")

	for _, sm := range b.Services {
		for _, m := range sm.Metrics {
			p, count, ok := latestPoint(m.Points)
			if !ok {
				continue
			}
			ts := p.Time.UnixMilli()

			if m.Name == StatusMetric {
				status.Metric = append(status.Metric, sample(ts, p.Value,
					"host", b.Host,
					"service", sm.Service,
					"description", m.Description,
				))
				continue
			}

			labels := []string{
				"host", b.Host,
				"service", sm.Service,
				"metric", m.Name,
				"unit", m.Unit,
				"type", m.Type.String(),
			}
			perf.Metric = append(perf.Metric, sample(ts, p.Value, labels...))
			if count > 1 {
				samples.Metric = append(samples.Metric, sample(ts, float64(count), labels[:6]...))
			}
			for _, e := range p.Exemplars {
				threshold.Metric = append(threshold.Metric, sample(ts, e.Value,
					"host", b.Host,
					"service", sm.Service,
					"metric", m.Name,
					"threshold", e.Label,
				))
			}
		}
	}

	var out []*dto.MetricFamily
	for _, f := range []*dto.MetricFamily{status, perf, threshold, samples} {
		if len(f.Metric) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// WriteText writes a batch in the Prometheus text exposition format.
func WriteText(w io.Writer, b *Batch) error {
	for _, mf := range Encode(b) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// latestPoint returns the most recent point and the number of samples
// merged into all points.
func latestPoint(points []DataPoint) (DataPoint, int, bool) {
	if len(points) == 0 {
		return DataPoint{}, 0, false
	}
	latest := points[0]
	count := 0
	for _, p := range points {
		count += p.Count
		if !p.Time.Before(latest.Time) {
			latest = p
		}
	}
	return latest, count, true
}

func newFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

// sample builds a gauge sample from alternating label names and values.
// Labels are sorted by name as the text format expects.
func sample(ts int64, value float64, kv ...string) *dto.Metric {
	labels := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		labels = append(labels, &dto.LabelPair{
			Name:  proto.String(kv[i]),
			Value: proto.String(kv[i+1]),
		})
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].GetName() < labels[j].GetName()
	})

	return &dto.Metric{
		Label:       labels,
		Gauge:       &dto.Gauge{Value: proto.Float64(value)},
		TimestampMs: proto.Int64(ts),
	}
}
