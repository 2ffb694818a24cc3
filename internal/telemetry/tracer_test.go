package telemetry_test

import (
	"context"
	"testing"

	"github.com/erp/portal/internal/config"
	"github.com/erp/portal/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, config.TelemetryConfig{
		Enabled:     false,
		ServiceName: "erpctl-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Provider())
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := telemetry.NewTracerProvider(ctx, config.TelemetryConfig{
		Enabled:       true,
		SamplingRatio: 1.0,
		ServiceName:   "erpctl-test",
	}, zaptest.NewLogger(t), telemetry.WithExporter(exporter), telemetry.WithServiceVersion("1.2.3"), telemetry.WithoutGlobal())
	require.NoError(t, err)
	require.True(t, tp.IsEnabled())

	_, span := tp.Provider().Tracer("test").Start(ctx, "dispatch")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "dispatch", spans[0].Name)

	var service, version string
	for _, attr := range spans[0].Resource.Attributes() {
		switch attr.Key {
		case "service.name":
			service = attr.Value.AsString()
		case "service.version":
			version = attr.Value.AsString()
		}
	}
	assert.Equal(t, "erpctl-test", service)
	assert.Equal(t, "1.2.3", version)

	require.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_NeverSample(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := telemetry.NewTracerProvider(ctx, config.TelemetryConfig{
		Enabled:       true,
		SamplingRatio: 0,
		ServiceName:   "erpctl-test",
	}, nil, telemetry.WithExporter(exporter), telemetry.WithoutGlobal())
	require.NoError(t, err)

	_, span := tp.Provider().Tracer("test").Start(ctx, "dropped")
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))
	assert.Empty(t, exporter.GetSpans())
	require.NoError(t, tp.Shutdown(ctx))
}
