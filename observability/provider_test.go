package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewProviderDisabledReturnsNoop(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "gateway"}, nil)
	require.NoError(t, err)

	_, isNoop := p.(*noopProvider)
	assert.True(t, isNoop)
	assert.IsType(t, noop.NewTracerProvider(), p.TracerProvider())
	assert.Nil(t, p.Metrics())
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, Shutdown(p, time.Second))
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected error
	}{
		{name: "missing service", cfg: Config{}, expected: ErrMissingServiceName},
		{name: "sample rate too high", cfg: Config{ServiceName: "gw", SampleRate: 1.5}, expected: ErrInvalidSampleRate},
		{name: "negative sample rate", cfg: Config{ServiceName: "gw", SampleRate: -0.1}, expected: ErrInvalidSampleRate},
		{name: "trace without endpoint", cfg: Config{ServiceName: "gw", TraceEnabled: true}, expected: ErrMissingEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg, nil)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestMustNewProviderPanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { MustNewProvider(Config{}, nil) })
}

func TestStdoutTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(Config{
		ServiceName:    "gateway",
		ServiceVersion: "1.2.3",
		Environment:    "test",
		TraceEnabled:   true,
		TraceEndpoint:  EndpointStdout,
		TraceWriter:    &buf,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = Shutdown(p, time.Second) }()

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "fetch worker.act")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "fetch worker.act")
	assert.Contains(t, out, "gateway")
	assert.Contains(t, out, "1.2.3")
	assert.Nil(t, p.Metrics())
}

func TestOTLPHTTPExporterIsLazy(t *testing.T) {
	for _, endpoint := range []string{"localhost:4318", "http://localhost:4318/v1/traces"} {
		p, err := NewProvider(Config{
			ServiceName:   "gateway",
			TraceEnabled:  true,
			TraceEndpoint: endpoint,
			TraceInsecure: true,
			TraceHeaders:  map[string]string{"x-api-key": "k"},
		}, nil)
		require.NoError(t, err, endpoint)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = p.Shutdown(ctx)
		cancel()
	}
}

func TestMetricsOnlyProvider(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "gateway", MetricsEnabled: true}, nil)
	require.NoError(t, err)

	require.NotNil(t, p.Metrics())
	families, err := p.Metrics().Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "runtime collectors are registered")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownNilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(nil, 0))
}
