package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point whose attribute key equals
// value, and whether such a point exists.
func sumFor(t *testing.T, met *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStep(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStep(ctx, "drill", 1.5)
	m.RecordStep(ctx, "drill", 0.5)
	m.RecordStep(ctx, "question", 0.2)

	rm := collect(t, reader)
	steps := findMetric(rm, "reciter.steps.spoken")
	if steps == nil {
		t.Fatal("reciter.steps.spoken not found")
	}
	if got, ok := sumFor(t, steps, "kind", "drill"); !ok || got != 2 {
		t.Errorf("drill steps = %d (found=%v), want 2", got, ok)
	}

	dur := findMetric(rm, "reciter.speech.duration")
	if dur == nil {
		t.Fatal("reciter.speech.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("reciter.speech.duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("histogram sample count = %d, want 3", total)
	}
}

func TestRecordUtterance(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, ResultHit)
	m.RecordUtterance(ctx, ResultMiss)
	m.RecordUtterance(ctx, ResultHit)

	rm := collect(t, reader)
	met := findMetric(rm, "reciter.utterances")
	if met == nil {
		t.Fatal("reciter.utterances not found")
	}
	if got, ok := sumFor(t, met, "result", ResultHit); !ok || got != 2 {
		t.Errorf("hit = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumFor(t, met, "result", ResultMiss); !ok || got != 1 {
		t.Errorf("miss = %d (found=%v), want 1", got, ok)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "reciter.active_sessions")
	if met == nil {
		t.Fatal("reciter.active_sessions not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("reciter.active_sessions has no data")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Errorf("DefaultMetrics() = %p, %p; want the same non-nil pointer", a, b)
	}
}
