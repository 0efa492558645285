package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

// sumWith returns the value of the int64 sum data point carrying key=value.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordRemux(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRemux(ctx, "cfr", "ok", 200*time.Millisecond)
	m.RecordRemux(ctx, "cfr", "ok", 400*time.Millisecond)
	m.RecordRemux(ctx, "cfr", "error", time.Second)

	rm := collect(t, reader)
	if got := sumWith(t, rm, "capa.remux.operations", "status", "ok"); got != 2 {
		t.Errorf("ok operations = %d, want 2", got)
	}
	if got := sumWith(t, rm, "capa.remux.operations", "status", "error"); got != 1 {
		t.Errorf("error operations = %d, want 1", got)
	}

	met := findMetric(rm, "capa.remux.duration")
	if met == nil {
		t.Fatal("capa.remux.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("capa.remux.duration is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration observations = %d, want 3", count)
	}
}

func TestRecordSamples(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSamples(ctx, "video", 30)
	m.RecordSamples(ctx, "video", 12)
	m.RecordSamples(ctx, "audio", 0)
	m.RecordSamples(ctx, "audio", 5)

	rm := collect(t, reader)
	if got := sumWith(t, rm, "capa.remux.samples", "kind", "video"); got != 42 {
		t.Errorf("video samples = %d, want 42", got)
	}
	if got := sumWith(t, rm, "capa.remux.samples", "kind", "audio"); got != 5 {
		t.Errorf("audio samples = %d, want 5", got)
	}
}

func TestRecordPipeFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipeFailure(ctx, "write")
	m.RecordPipeFailure(ctx, "write")
	m.RecordPipeFailure(ctx, "read")

	rm := collect(t, reader)
	if got := sumWith(t, rm, "capa.remux.pipe_failures", "op", "write"); got != 2 {
		t.Errorf("write failures = %d, want 2", got)
	}
}

func TestRecordPeak(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPeak(ctx, "microphone", -12, false)
	m.RecordPeak(ctx, "master", 0, true)
	m.RecordPeak(ctx, "master", -0.5, false)

	rm := collect(t, reader)
	if got := sumWith(t, rm, "capa.audio.clipped_blocks", "role", "master"); got != 1 {
		t.Errorf("clipped master blocks = %d, want 1", got)
	}

	met := findMetric(rm, "capa.audio.peak_db")
	if met == nil {
		t.Fatal("capa.audio.peak_db not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("capa.audio.peak_db is not a histogram")
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("peak data points = %d, want one per role", len(hist.DataPoints))
	}
}

func TestActivePipes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActivePipes.Add(ctx, 3)
	m.ActivePipes.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "capa.remux.active_pipes")
	if met == nil {
		t.Fatal("capa.remux.active_pipes not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("capa.remux.active_pipes has no sum data")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("active pipes = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
