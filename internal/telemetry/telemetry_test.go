package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	t.Parallel()
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestProvider_RecordsSpansWithServiceResource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := Config{ServiceName: "exporter-test"}
	cfg.defaults()

	tp, err := newProvider(cfg, sdktrace.WithSyncer(exp))
	require.NoError(t, err)
	prev := otel.GetTracerProvider()
	install(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := otel.Tracer("itemexport/test").Start(context.Background(), "ingest.primary")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "ingest.primary", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == semconv.ServiceNameKey {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "exporter-test", service)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{SamplingRatio: 3}
	c.defaults()
	require.Equal(t, "itemexport", c.ServiceName)
	require.Equal(t, 1.0, c.SamplingRatio)
	require.Positive(t, c.BatchTimeout)
}
