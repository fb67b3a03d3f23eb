package export

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-monitoring-agent/internal/check"
	"github.com/randomizedcoder/go-monitoring-agent/internal/perfdata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResult(status check.Status, output string, end time.Time) check.Result {
	_, perf := perfdata.SplitOutput(output)
	return check.Result{
		Status:   status,
		Outputs:  []string{output},
		Perfdata: perfdata.Parse(strings.TrimSpace(perf), testLogger()),
		Start:    end.Add(-time.Second),
		End:      end,
	}
}

func TestBatch_Aggregated(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBatch("host1", false)

	b.Add("ping", testResult(check.StatusOK, "OK - rta 1ms|rta=1ms;100;200;0;", t0))
	b.Add("ping", testResult(check.StatusWarning, "WARNING - rta 150ms|rta=150ms;100;200;0;", t0.Add(time.Second)))
	b.Add("disk", testResult(check.StatusOK, "OK", t0))

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if b.Services[0].Service != "ping" || b.Services[1].Service != "disk" {
		t.Errorf("services out of first-seen order")
	}

	ping, _ := b.Service("ping")
	if len(ping.Metrics) != 2 {
		t.Fatalf("ping metrics = %d, want status and rta", len(ping.Metrics))
	}
	status := ping.Metrics[0]
	if status.Name != StatusMetric || status.Description != "WARNING - rta 150ms" {
		t.Errorf("status metric = %+v", status)
	}
	if len(status.Points) != 1 || status.Points[0].Value != 1 || status.Points[0].Count != 2 {
		t.Errorf("status points = %+v, want one merged WARNING point", status.Points)
	}

	rta := ping.Metrics[1]
	if len(rta.Points) != 1 || rta.Points[0].Value != 150 {
		t.Errorf("rta points = %+v, want latest value 150", rta.Points)
	}
	if rta.Points[0].Exemplars != nil {
		t.Error("aggregated mode should not carry exemplars")
	}
}

func TestBatch_Exemplars(t *testing.T) {
	t0 := time.Now()
	b := NewBatch("host1", true)

	b.Add("ping", testResult(check.StatusOK, "OK|rta=1ms;100;@10:200;0;", t0))
	b.Add("ping", testResult(check.StatusOK, "OK|rta=2ms;100;@10:200;0;", t0.Add(time.Second)))

	ping, _ := b.Service("ping")
	rta := ping.Metrics[1]
	if len(rta.Points) != 2 {
		t.Fatalf("rta points = %d, want one per completion", len(rta.Points))
	}

	got := map[string]float64{}
	for _, e := range rta.Points[0].Exemplars {
		got[e.Label] = e.Value
	}
	want := map[string]float64{
		"crit_ge": 200,
		"crit_le": 10,
		"warn_gt": 100,
		"warn_lt": 0,
		"min":     0,
	}
	if len(got) != len(want) {
		t.Errorf("exemplars = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("exemplar %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestExemplars_UnsetSkipped(t *testing.T) {
	p := perfdata.New("load", 1, "")
	if got := Exemplars(p); len(got) != 0 {
		t.Errorf("Exemplars() = %v, want none", got)
	}

	p.Max = math.Inf(1)
	if got := Exemplars(p); len(got) != 0 {
		t.Errorf("Exemplars() with +Inf max = %v, want none", got)
	}
}

func TestBatch_EstimatedSizeGrows(t *testing.T) {
	b := NewBatch("host1", true)
	before := b.EstimatedSize()
	b.Add("svc", testResult(check.StatusOK, "OK|a=1;2;3;0;10", time.Now()))
	mid := b.EstimatedSize()
	b.Add("svc", testResult(check.StatusOK, "OK|a=1;2;3;0;10", time.Now()))

	if !(before < mid && mid < b.EstimatedSize()) {
		t.Errorf("sizes = %d, %d, %d, want strictly increasing", before, mid, b.EstimatedSize())
	}
}

func TestEncode(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBatch("host1", true)
	b.Add("ping", testResult(check.StatusCritical, "CRITICAL - lost|pl=100%;40;80;;", t0))

	families := Encode(b)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	status := byName[FamilyStatus]
	if status == nil || len(status.Metric) != 1 {
		t.Fatalf("status family = %v", status)
	}
	m := status.Metric[0]
	if m.GetGauge().GetValue() != 2 {
		t.Errorf("status value = %v, want 2", m.GetGauge().GetValue())
	}
	if m.GetTimestampMs() != t0.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", m.GetTimestampMs(), t0.UnixMilli())
	}
	labels := map[string]string{}
	for _, l := range m.Label {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["host"] != "host1" || labels["service"] != "ping" || labels["description"] != "CRITICAL - lost" {
		t.Errorf("status labels = %v", labels)
	}

	if perf := byName[FamilyPerfdata]; perf == nil || len(perf.Metric) != 1 {
		t.Errorf("perfdata family = %v", perf)
	}
	if th := byName[FamilyThreshold]; th == nil || len(th.Metric) != 4 {
		t.Errorf("threshold family = %v, want warn/crit highs and lows", th)
	}
	if _, ok := byName[FamilySamples]; ok {
		t.Error("samples family should be absent without merged points")
	}
}

func TestEncode_Empty(t *testing.T) {
	if got := Encode(nil); got != nil {
		t.Errorf("Encode(nil) = %v", got)
	}
	if got := Encode(NewBatch("h", false)); got != nil {
		t.Errorf("Encode(empty) = %v", got)
	}
}

func TestWriteText_Decodes(t *testing.T) {
	b := NewBatch("host1", false)
	b.Add("ping", testResult(check.StatusOK, "OK|rta=1ms;100;200;0;", time.Now()))
	b.Add("ping", testResult(check.StatusOK, "OK|rta=3ms;100;200;0;", time.Now()))

	var buf bytes.Buffer
	if err := WriteText(&buf, b); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}

	decoder := expfmt.NewDecoder(&buf, expfmt.FmtText)
	names := map[string]int{}
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("Decode() error = %v", err)
		}
		names[mf.GetName()] = len(mf.Metric)
	}

	if names[FamilyStatus] != 1 || names[FamilyPerfdata] != 1 || names[FamilySamples] != 1 {
		t.Errorf("decoded families = %v", names)
	}
}

func TestEncode_ExemplarBatchOneSeriesPerMetric(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBatch("host1", true)
	b.Add("ping", testResult(check.StatusWarning, "WARNING|rta=150ms;100;200;0;", t0.Add(time.Second)))
	b.Add("ping", testResult(check.StatusOK, "OK|rta=3ms;100;200;0;", t0))

	byName := map[string]*dto.MetricFamily{}
	for _, f := range Encode(b) {
		byName[f.GetName()] = f
		seen := map[string]bool{}
		for _, m := range f.Metric {
			var key strings.Builder
			for _, l := range m.Label {
				key.WriteString(l.GetName() + "=" + l.GetValue() + ",")
			}
			if seen[key.String()] {
				t.Errorf("family %s repeats series %s", f.GetName(), key.String())
			}
			seen[key.String()] = true
		}
	}

	perf := byName[FamilyPerfdata]
	if perf == nil || len(perf.Metric) != 1 {
		t.Fatalf("perfdata family = %v, want one series", perf)
	}
	if got := perf.Metric[0].GetGauge().GetValue(); got != 150 {
		t.Errorf("perfdata value = %v, want the latest completion 150", got)
	}
	if got := perf.Metric[0].GetTimestampMs(); got != t0.Add(time.Second).UnixMilli() {
		t.Errorf("perfdata timestamp = %d, want the latest completion", got)
	}
	if s := byName[FamilySamples]; s == nil || len(s.Metric) != 1 || s.Metric[0].GetGauge().GetValue() != 2 {
		t.Errorf("samples family = %v, want one series counting 2", s)
	}
	if st := byName[FamilyStatus]; st == nil || len(st.Metric) != 1 || st.Metric[0].GetGauge().GetValue() != 1 {
		t.Errorf("status family = %v, want one WARNING series", st)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, b); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	if got := strings.Count(buf.String(), "\n"+FamilyPerfdata+"{"); got != 1 {
		t.Errorf("text output has %d %s lines, want 1:\n%s", got, FamilyPerfdata, buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, testLogger())

	w.Export(NewBatch("host1", false))
	if w.Last() != nil {
		t.Error("empty batches should not be exported")
	}

	b := NewBatch("host1", false)
	b.Add("svc", testResult(check.StatusOK, "OK", time.Now()))
	w.Export(b)

	if w.Last() != b {
		t.Error("Last() should return the exported batch")
	}
	if !strings.Contains(out.String(), `check_status{description="OK",host="host1",service="svc"} 0`) {
		t.Errorf("output = %q", out.String())
	}

	var again bytes.Buffer
	if err := w.WriteLast(&again); err != nil {
		t.Fatalf("WriteLast() error = %v", err)
	}
	if again.String() != out.String() {
		t.Error("WriteLast() should match the written output")
	}

	batches, services, failures := w.Counts()
	if batches != 1 || services != 1 || failures != 0 {
		t.Errorf("Counts() = %d, %d, %d", batches, services, failures)
	}
}

func TestWriter_WriteFailure(t *testing.T) {
	w := NewWriter(failingWriter{}, testLogger())
	b := NewBatch("host1", false)
	b.Add("svc", testResult(check.StatusOK, "OK", time.Now()))
	w.Export(b)

	if _, _, failures := w.Counts(); failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}
