// Package observe provides application-wide observability primitives for
// Atlas Cortex: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

	"github.com/atlas-assistant/cortex/internal/pipeline"
)

// meterName is the instrumentation scope name used for all cortex metrics.
const meterName = "github.com/atlas-assistant/cortex"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Per-turn pipeline stage histograms ---

	// AssemblyDuration tracks the Layer 0 context fan-out latency.
	AssemblyDuration metric.Float64Histogram

	// GuardrailDuration tracks the input safety pass latency.
	GuardrailDuration metric.Float64Histogram

	// ResolveDuration tracks layer matching latency up to the resolving
	// layer (stream start for generation turns).
	ResolveDuration metric.Float64Histogram

	// TurnDuration tracks the full assembly+guardrail+resolve time.
	TurnDuration metric.Float64Histogram

	// --- Voice stage histograms ---

	// TranscribeDuration tracks satellite speech-to-text latency.
	TranscribeDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ToolExecutionDuration tracks integration tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsResolved counts turns by resolving layer. Use with attribute:
	//   attribute.String("layer", ...)
	TurnsResolved metric.Int64Counter

	// GuardrailVerdicts counts safety verdicts. Use with attributes:
	//   attribute.String("direction", ...), attribute.String("severity", ...)
	GuardrailVerdicts metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveSatellites tracks the number of connected satellites.
	ActiveSatellites metric.Int64UpDownCounter

	// ActiveStreams tracks the number of in-flight generation streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		if err != nil {
			return nil
		}
		var g metric.Int64UpDownCounter
		g, err = m.Int64UpDownCounter(name, metric.WithDescription(desc))
		return g
	}

	met.AssemblyDuration = histogram("cortex.turn.assembly.duration",
		"Latency of the Layer 0 context assembly fan-out.")
	met.GuardrailDuration = histogram("cortex.turn.guardrail.duration",
		"Latency of the input safety pass.")
	met.ResolveDuration = histogram("cortex.turn.resolve.duration",
		"Latency of layer matching up to the resolving layer.")
	met.TurnDuration = histogram("cortex.turn.duration",
		"Total turn latency (assembly + guardrail + resolve).")
	met.TranscribeDuration = histogram("cortex.transcribe.duration",
		"Latency of satellite speech-to-text transcription.")
	met.SynthesisDuration = histogram("cortex.tts.duration",
		"Latency of text-to-speech synthesis.")
	met.ToolExecutionDuration = histogram("cortex.tool_execution.duration",
		"Latency of integration tool execution.")

	met.TurnsResolved = counter("cortex.turns",
		"Total turns by resolving layer.")
	met.GuardrailVerdicts = counter("cortex.guardrail.verdicts",
		"Total guardrail verdicts by direction and severity.")
	met.ProviderRequests = counter("cortex.provider.requests",
		"Total provider API requests by provider, role, and status.")
	met.ProviderErrors = counter("cortex.provider.errors",
		"Total provider errors by provider and role.")
	met.ToolCalls = counter("cortex.tool.calls",
		"Total tool invocations by tool name and status.")

	met.ActiveSatellites = gauge("cortex.active_satellites",
		"Number of connected satellites.")
	met.ActiveStreams = gauge("cortex.active_streams",
		"Number of in-flight generation streams.")

	if err == nil {
		met.HTTPRequestDuration, err = m.Float64Histogram("cortex.http.request.duration",
			metric.WithDescription("HTTP request latency by method and path."),
			metric.WithUnit("s"),
		)
	}
	if err != nil {
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

// ObserveTurn records the per-turn latency breakdown and the layer
// counter. It satisfies the pipeline's Metrics interface.
func (m *Metrics) ObserveTurn(layer string, timing pipeline.Timing) {
	ctx := context.Background()
	m.AssemblyDuration.Record(ctx, timing.Assembly.Seconds())
	m.GuardrailDuration.Record(ctx, timing.Guardrail.Seconds())
	m.ResolveDuration.Record(ctx, timing.Resolve.Seconds())
	m.TurnDuration.Record(ctx, timing.Total.Seconds())
	m.TurnsResolved.Add(ctx, 1,
		metric.WithAttributes(attribute.String("layer", layer)),
	)
}

// RecordGuardrailVerdict records one safety verdict.
func (m *Metrics) RecordGuardrailVerdict(ctx context.Context, direction, severity string) {
	m.GuardrailVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("severity", severity),
		),
	)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, role, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, role string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
		),
	)
}

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// SatelliteConnected increments the connected satellite gauge.
func (m *Metrics) SatelliteConnected(ctx context.Context) {
	m.ActiveSatellites.Add(ctx, 1)
}

// SatelliteDisconnected decrements the connected satellite gauge.
func (m *Metrics) SatelliteDisconnected(ctx context.Context) {
	m.ActiveSatellites.Add(ctx, -1)
}
