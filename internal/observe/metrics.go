// Package observe provides application-wide observability primitives for
// capa: OpenTelemetry metrics, distributed tracing and trace-aware structured
// logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all capa metrics.
const meterName = "github.com/MrWong99/capa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RemuxDuration tracks the wall time of one multiplex operation. Use with
	// attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	RemuxDuration metric.Float64Histogram

	// --- Counters ---

	// RemuxOperations counts multiplex operations. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	RemuxOperations metric.Int64Counter

	// RemuxSamples counts samples written. Use with attribute:
	//   attribute.String("kind", ...)
	RemuxSamples metric.Int64Counter

	// PipeFailures counts pipes that stopped on an error. Use with attribute:
	//   attribute.String("op", ...)
	PipeFailures metric.Int64Counter

	// ClippedBlocks counts audio blocks that reached full scale. Use with
	// attribute:
	//   attribute.String("role", ...)
	ClippedBlocks metric.Int64Counter

	// --- Level histograms ---

	// AudioPeak records per-block peak levels in dBFS. Use with attribute:
	//   attribute.String("role", ...)
	AudioPeak metric.Float64Histogram

	// --- Gauges ---

	// ActivePipes tracks the number of pipes currently copying samples.
	ActivePipes metric.Int64UpDownCounter
}

// durationBuckets defines histogram bucket boundaries (in seconds) for
// rewriting a recording.
var durationBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// peakBuckets defines histogram bucket boundaries (in dBFS) for block peaks.
var peakBuckets = []float64{
	-80, -60, -48, -36, -24, -18, -12, -6, -3, -1, 0,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RemuxDuration, err = m.Float64Histogram("capa.remux.duration",
		metric.WithDescription("Wall time of a multiplex operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioPeak, err = m.Float64Histogram("capa.audio.peak_db",
		metric.WithDescription("Peak level of processed audio blocks."),
		metric.WithUnit("dBFS"),
		metric.WithExplicitBucketBoundaries(peakBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RemuxOperations, err = m.Int64Counter("capa.remux.operations",
		metric.WithDescription("Total multiplex operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.RemuxSamples, err = m.Int64Counter("capa.remux.samples",
		metric.WithDescription("Total samples written by track kind."),
	); err != nil {
		return nil, err
	}
	if met.PipeFailures, err = m.Int64Counter("capa.remux.pipe_failures",
		metric.WithDescription("Total pipe failures by failing step."),
	); err != nil {
		return nil, err
	}
	if met.ClippedBlocks, err = m.Int64Counter("capa.audio.clipped_blocks",
		metric.WithDescription("Total audio blocks reaching full scale by role."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipes, err = m.Int64UpDownCounter("capa.remux.active_pipes",
		metric.WithDescription("Number of pipes currently copying samples."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRemux is a convenience method that records the duration and outcome
// of one multiplex operation.
func (m *Metrics) RecordRemux(ctx context.Context, operation, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.RemuxDuration.Record(ctx, d.Seconds(), attrs)
	m.RemuxOperations.Add(ctx, 1, attrs)
}

// RecordSamples is a convenience method that adds n written samples of the
// given track kind.
func (m *Metrics) RecordSamples(ctx context.Context, kind string, n int64) {
	if n == 0 {
		return
	}
	m.RemuxSamples.Add(ctx, n,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPipeFailure is a convenience method that records a pipe failure at
// the given step.
func (m *Metrics) RecordPipeFailure(ctx context.Context, op string) {
	m.PipeFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordPeak is a convenience method that records one block peak for role.
func (m *Metrics) RecordPeak(ctx context.Context, role string, db float64, clipped bool) {
	attrs := metric.WithAttributes(attribute.String("role", role))
	m.AudioPeak.Record(ctx, db, attrs)
	if clipped {
		m.ClippedBlocks.Add(ctx, 1, attrs)
	}
}
