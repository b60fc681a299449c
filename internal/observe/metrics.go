// Package observe provides application-wide observability primitives for
// the recitation engine: OpenTelemetry metrics, tracing helpers, structured
// logging enriched with trace ids, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped via /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all reciter metrics.
const meterName = "github.com/MrWong99/reciter"

// Utterance results recorded by [Metrics.RecordUtterance].
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultAllHit  = "all_hit"
	ResultIgnored = "ignored"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StepsSpoken counts playback steps handed to the speaker. Use with
	// attribute.String("kind", "question"|"full_read"|"drill"|"review").
	StepsSpoken metric.Int64Counter

	// SpeechDuration tracks how long each spoken step took, including
	// watchdog-synthesised completions.
	SpeechDuration metric.Float64Histogram

	// SpeechTimeouts counts pieces whose completion was synthesised by the
	// speech watchdog.
	SpeechTimeouts metric.Int64Counter

	// Utterances counts recognised utterances submitted to the checker. Use
	// with attribute.String("result", ...).
	Utterances metric.Int64Counter

	// ItemsPassed counts items whose recite check transitioned to passed.
	ItemsPassed metric.Int64Counter

	// ItemsAdvanced counts automatic moves to the next item after playback
	// finished.
	ItemsAdvanced metric.Int64Counter

	// ActiveSessions tracks the number of playback loops currently running.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// speechBuckets are histogram boundaries (in seconds) sized for spoken
// sentences, from a single word up to the five minute watchdog cap.
var speechBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StepsSpoken, err = m.Int64Counter("reciter.steps.spoken",
		metric.WithDescription("Total playback steps spoken by step kind."),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("reciter.speech.duration",
		metric.WithDescription("Wall time of a spoken playback step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechTimeouts, err = m.Int64Counter("reciter.speech.timeouts",
		metric.WithDescription("Speech pieces completed by the watchdog."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("reciter.utterances",
		metric.WithDescription("Recognised utterances by match result."),
	); err != nil {
		return nil, err
	}
	if met.ItemsPassed, err = m.Int64Counter("reciter.items.passed",
		metric.WithDescription("Items whose recite check passed."),
	); err != nil {
		return nil, err
	}
	if met.ItemsAdvanced, err = m.Int64Counter("reciter.items.advanced",
		metric.WithDescription("Automatic advances to the next item."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("reciter.active_sessions",
		metric.WithDescription("Playback loops currently running."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("reciter.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStep records one spoken step of the given kind and how long it took.
func (m *Metrics) RecordStep(ctx context.Context, kind string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.StepsSpoken.Add(ctx, 1, attrs)
	m.SpeechDuration.Record(ctx, seconds, attrs)
}

// RecordUtterance records one submitted utterance with its match result.
func (m *Metrics) RecordUtterance(ctx context.Context, result string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
