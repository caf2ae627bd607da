// Package observe provides application-wide observability primitives for
// ringer: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all ringer metrics.
const meterName = "github.com/MrWong99/ringer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Call lifecycle ---

	// CallsScheduled counts persisted call triggers.
	CallsScheduled metric.Int64Counter

	// CallsTriggered counts calls that started ringing. Use with attribute:
	//   attribute.String("tier", ...)
	CallsTriggered metric.Int64Counter

	// CallsStopped counts stop paths taken. Use with attribute:
	//   attribute.String("kind", ...) (stop, force, force_any, disable_all, stop_all, timeout)
	CallsStopped metric.Int64Counter

	// ActiveCalls tracks whether a call is ringing (0 or 1 per engine).
	ActiveCalls metric.Int64UpDownCounter

	// RingDuration tracks how long calls rang before being stopped.
	RingDuration metric.Float64Histogram

	// --- Playback ---

	// KeepAliveResumes counts handles resumed by a keep-alive loop. Use with
	// attribute:
	//   attribute.String("loop", ...) (call, background)
	KeepAliveResumes metric.Int64Counter

	// TierFailures counts tone tiers that failed to initialise. Use with
	// attribute:
	//   attribute.String("tier", ...)
	TierFailures metric.Int64Counter

	// --- Poller ---

	// PollRuns counts poller runs. Use with attribute:
	//   attribute.String("result", ...) (fired, idle, skipped, error)
	PollRuns metric.Int64Counter

	// --- Notifications ---

	// NotifyErrors counts failed notification deliveries.
	NotifyErrors metric.Int64Counter

	// --- Ambient ---

	// AmbientTones counts transition tones. Use with attributes:
	//   attribute.String("direction", ...), attribute.String("status", ...) (played, deferred, failed)
	AmbientTones metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// ringBuckets defines histogram bucket boundaries (in seconds) around the
// ten second auto-stop.
var ringBuckets = []float64{
	0.5, 1, 2, 3, 5, 7.5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Call lifecycle.
	if met.CallsScheduled, err = m.Int64Counter("ringer.calls.scheduled",
		metric.WithDescription("Total call triggers persisted."),
	); err != nil {
		return nil, err
	}
	if met.CallsTriggered, err = m.Int64Counter("ringer.calls.triggered",
		metric.WithDescription("Total calls that started ringing, by winning tier."),
	); err != nil {
		return nil, err
	}
	if met.CallsStopped, err = m.Int64Counter("ringer.calls.stopped",
		metric.WithDescription("Total stop paths taken, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("ringer.active_calls",
		metric.WithDescription("Number of calls currently ringing."),
	); err != nil {
		return nil, err
	}
	if met.RingDuration, err = m.Float64Histogram("ringer.ring.duration",
		metric.WithDescription("Time from ring start to stop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(ringBuckets...),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.KeepAliveResumes, err = m.Int64Counter("ringer.keepalive.resumes",
		metric.WithDescription("Total paused handles resumed by a keep-alive loop."),
	); err != nil {
		return nil, err
	}
	if met.TierFailures, err = m.Int64Counter("ringer.tier.failures",
		metric.WithDescription("Total tone tiers that failed to initialise."),
	); err != nil {
		return nil, err
	}

	// Poller.
	if met.PollRuns, err = m.Int64Counter("ringer.poll.runs",
		metric.WithDescription("Total poller runs by result."),
	); err != nil {
		return nil, err
	}

	// Notifications.
	if met.NotifyErrors, err = m.Int64Counter("ringer.notify.errors",
		metric.WithDescription("Total failed notification deliveries."),
	); err != nil {
		return nil, err
	}

	// Ambient.
	if met.AmbientTones, err = m.Int64Counter("ringer.ambient.tones",
		metric.WithDescription("Total app-phase transition tones by direction and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ringer.http.request.duration",
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

// RecordCallTriggered records a call that started ringing on tier.
func (m *Metrics) RecordCallTriggered(ctx context.Context, tier string) {
	m.CallsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	m.ActiveCalls.Add(ctx, 1)
}

// RecordCallStopped records a stop path. rang is how long the call rang, or
// zero if no call was ringing.
func (m *Metrics) RecordCallStopped(ctx context.Context, kind string, rang time.Duration) {
	m.CallsStopped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	if rang > 0 {
		m.ActiveCalls.Add(ctx, -1)
		m.RingDuration.Record(ctx, rang.Seconds())
	}
}

// RecordResume records a keep-alive resume on loop.
func (m *Metrics) RecordResume(ctx context.Context, loop string) {
	m.KeepAliveResumes.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}

// RecordTierFailure records a failed tone tier.
func (m *Metrics) RecordTierFailure(ctx context.Context, tier string) {
	m.TierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordPoll records a poller run outcome.
func (m *Metrics) RecordPoll(ctx context.Context, result string) {
	m.PollRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordNotifyError records a failed notification of the given type.
func (m *Metrics) RecordNotifyError(ctx context.Context, typ string) {
	m.NotifyErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordAmbient records an ambient transition tone outcome.
func (m *Metrics) RecordAmbient(ctx context.Context, direction, status string) {
	m.AmbientTones.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("status", status),
		),
	)
}
