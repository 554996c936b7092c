package obs

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracerWithoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "none", SamplingRatio: 1})
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "dispatch")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span with a valid trace id")
	}
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Fatal("expected unsupported exporter error")
	}
}

func TestServiceAttributes(t *testing.T) {
	attrs := serviceAttributes(TracingConfig{StoreBackend: "redis", Gateways: []string{"square", "stripe"}})
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range attrs {
		got[kv.Key] = kv.Value
	}
	if got["service.name"].AsString() != DefaultServiceName {
		t.Fatalf("expected default service name, got %q", got["service.name"].AsString())
	}
	if got["booking.store_backend"].AsString() != "redis" {
		t.Fatalf("unexpected store backend %v", got["booking.store_backend"])
	}
	if len(got["booking.gateways"].AsStringSlice()) != 2 {
		t.Fatalf("unexpected gateways %v", got["booking.gateways"])
	}
	if _, ok := got["deployment.environment"]; ok {
		t.Fatal("empty environment must not be set")
	}
}

func TestParseBuckets(t *testing.T) {
	got := ParseBuckets(" 0.1, bad, -1, 5 ,,2")
	want := []float64{0.1, 5, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v", got)
		}
	}
	if ParseBuckets("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
