// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/sttcore/streamcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderLatency tracks per-utterance STT latency (C8), the interval
	// between a chunk's capture timestamp and its matching transcript
	// arriving from the provider.
	ProviderLatency metric.Float64Histogram

	// BatchRTF tracks each batch job file/provider's real-time factor (C9).
	BatchRTF metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider stream/transcribe calls. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...),
	// attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BacklogDrops counts chunks the backlog governor (C4) dropped or
	// refused at the hard limit. Use with attribute: attribute.String("action", "drop"|"failed")
	BacklogDrops metric.Int64Counter

	// ReplayTakes counts /ws/replay session.Take outcomes (C12). Use with
	// attribute: attribute.String("result", "hit"|"miss"|"expired")
	ReplayTakes metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions (C6/C13).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// rtfBuckets defines histogram bucket boundaries for batch real-time-factor
// measurements, which center around 1.0 rather than small latencies.
var rtfBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 4, 8,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderLatency, err = m.Float64Histogram("sttcore.provider.latency",
		metric.WithDescription("Latency from chunk capture to matching transcript arrival."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchRTF, err = m.Float64Histogram("sttcore.batch.rtf",
		metric.WithDescription("Batch job real-time factor (processing time / audio duration)."),
		metric.WithExplicitBucketBoundaries(rtfBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("sttcore.provider.requests",
		metric.WithDescription("Total provider stream/transcribe calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sttcore.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BacklogDrops, err = m.Int64Counter("sttcore.backlog.drops",
		metric.WithDescription("Total chunks dropped or refused by the backlog governor."),
	); err != nil {
		return nil, err
	}
	if met.ReplayTakes, err = m.Int64Counter("sttcore.replay.takes",
		metric.WithDescription("Total replay session Take outcomes by result."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("sttcore.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sttcore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBacklogAction records one backlog governor drop or failed event.
func (m *Metrics) RecordBacklogAction(ctx context.Context, action string) {
	m.BacklogDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordReplayTake records one /ws/replay session.Take outcome.
func (m *Metrics) RecordReplayTake(ctx context.Context, result string) {
	m.ReplayTakes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
