package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func preserveGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetupTracingDisabledIsNoop(t *testing.T) {
	preserveGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{}, "palette-api", "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupTracingRequiresEndpoint(t *testing.T) {
	preserveGlobals(t)
	_, err := SetupTracing(context.Background(), config.TracingConfig{Enabled: true}, "palette-api", "dev")
	require.Error(t, err)
}

func TestSetupTracingInstallsProvider(t *testing.T) {
	preserveGlobals(t)

	for _, insecure := range []bool{true, false} {
		shutdown, err := SetupTracing(context.Background(), config.TracingConfig{
			Enabled:     true,
			Endpoint:    "localhost:4317",
			Insecure:    insecure,
			SampleRatio: 5,
		}, "palette-api", "v1.0.0")
		require.NoError(t, err)

		_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
		assert.True(t, ok)

		carrier := propagation.MapCarrier{}
		ctx, span := otel.Tracer("test").Start(context.Background(), "span")
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		span.End()
		assert.NotEmpty(t, carrier.Get("traceparent"))

		_ = shutdown(context.Background())
	}
}

func TestSetupTracingSurfacesSeamErrors(t *testing.T) {
	preserveGlobals(t)
	cfg := config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", Insecure: true}

	origExporter, origResource := newExporter, newResource
	t.Cleanup(func() { newExporter, newResource = origExporter, origResource })

	newExporter = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom")
	}
	_, err := SetupTracing(context.Background(), cfg, "svc", "v")
	require.ErrorContains(t, err, "create otlp exporter")

	newExporter = origExporter
	newResource = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("bad resource")
	}
	_, err = SetupTracing(context.Background(), cfg, "svc", "v")
	require.ErrorContains(t, err, "build trace resource")
}
