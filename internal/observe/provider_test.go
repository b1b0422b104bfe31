package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// InitProvider registers with the default Prometheus registry, so this is
// the only test in the package that calls it.
func TestInitProvider_ExportsMetricsAndSpans(t *testing.T) {
	prevMP, prevTP, prevProp := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(t.Context(), ProviderConfig{
		ServiceName:    "bridge-test",
		ServiceVersion: "v0.0.1",
		TraceExporter:  exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	if _, ok := otel.GetTextMapPropagator().(propagation.TraceContext); !ok {
		t.Errorf("propagator = %T, want propagation.TraceContext", otel.GetTextMapPropagator())
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordUtterance(t.Context(), "published")

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "aipibridge_utterances") {
		t.Errorf("scrape lacks the utterance counter:\n%s", body)
	}
	if !strings.Contains(string(body), `service_name="bridge-test"`) {
		t.Errorf("scrape lacks the service name:\n%s", body)
	}

	_, span := StartSpan(context.Background(), "utterance")
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("tracer provider = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(t.Context()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "utterance" {
		t.Fatalf("exported spans = %v, want one utterance span", spans)
	}

	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
