package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/atlas-assistant/cortex/internal/pipeline"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// counterValue returns the value of the data point whose attribute key
// equals value, or -1 when absent.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestObserveTurnRecordsStagesAndLayer(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ObserveTurn("instant", pipeline.Timing{
		Assembly:  40 * time.Millisecond,
		Guardrail: 5 * time.Millisecond,
		Resolve:   time.Millisecond,
		Total:     46 * time.Millisecond,
	})
	m.ObserveTurn("llm", pipeline.Timing{
		Assembly:  60 * time.Millisecond,
		Guardrail: 8 * time.Millisecond,
		Resolve:   300 * time.Millisecond,
		Total:     368 * time.Millisecond,
	})

	rm := collect(t, reader)

	for _, name := range []string{
		"cortex.turn.assembly.duration",
		"cortex.turn.guardrail.duration",
		"cortex.turn.resolve.duration",
		"cortex.turn.duration",
	} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}

	if got := counterValue(t, rm, "cortex.turns", "layer", "instant"); got != 1 {
		t.Errorf("instant turns = %d, want 1", got)
	}
	if got := counterValue(t, rm, "cortex.turns", "layer", "llm"); got != 1 {
		t.Errorf("llm turns = %d, want 1", got)
	}
}

func TestGuardrailVerdictCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGuardrailVerdict(ctx, "input", "pass")
	m.RecordGuardrailVerdict(ctx, "input", "pass")
	m.RecordGuardrailVerdict(ctx, "output", "hard_block")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "cortex.guardrail.verdicts", "severity", "pass"); got != 2 {
		t.Errorf("pass verdicts = %d, want 2", got)
	}
	if got := counterValue(t, rm, "cortex.guardrail.verdicts", "severity", "hard_block"); got != 1 {
		t.Errorf("hard_block verdicts = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "standard", "ok")
	m.RecordProviderRequest(ctx, "ollama", "standard", "ok")
	m.RecordProviderRequest(ctx, "ollama", "standard", "error")
	m.RecordProviderError(ctx, "ollama", "standard")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "cortex.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := counterValue(t, rm, "cortex.provider.errors", "provider", "ollama"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "light_toggle", "ok")
	m.RecordToolCall(ctx, "light_toggle", "error")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "cortex.tool.calls", "status", "ok"); got != 1 {
		t.Errorf("ok calls = %d, want 1", got)
	}
}

func TestSatelliteGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SatelliteConnected(ctx)
	m.SatelliteConnected(ctx)
	m.SatelliteDisconnected(ctx)

	rm := collect(t, reader)
	met := findMetric(rm, "cortex.active_satellites")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "cortex.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
