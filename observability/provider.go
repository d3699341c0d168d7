package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gaborage/e2e-gateway/logger"
)

// EndpointStdout selects the pretty-printing stdout span exporter.
const EndpointStdout = "stdout"

// Config selects the telemetry pipelines. It is built from the gateway config
// by the caller so this package stays free of config loading.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	TraceEnabled  bool
	TraceEndpoint string
	TraceInsecure bool
	// SampleRate is the TraceIDRatioBased fraction; zero keeps every span.
	SampleRate   float64
	TraceHeaders map[string]string
	// TraceWriter overrides stdout for the stdout exporter.
	TraceWriter io.Writer

	MetricsEnabled bool
}

// Validate checks settings that would otherwise fail deep inside exporter setup.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidSampleRate
	}
	if c.TraceEnabled && c.TraceEndpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// Provider is the interface for observability providers.
// It manages the lifecycle of tracing and the metrics registry.
type Provider interface {
	// TracerProvider returns the configured trace provider.
	TracerProvider() trace.TracerProvider

	// Metrics returns the gateway instruments, or nil when metrics are disabled.
	Metrics() *Metrics

	// Shutdown gracefully shuts down the provider, flushing any pending spans.
	Shutdown(ctx context.Context) error

	// ForceFlush immediately flushes any pending telemetry data.
	ForceFlush(ctx context.Context) error
}

// provider implements Provider with the OpenTelemetry SDK and a private prometheus registry.
type provider struct {
	config         Config
	log            logger.Logger
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
	mu             sync.Mutex
}

// NewProvider creates a provider based on the configuration. When both
// pipelines are disabled a no-op provider is returned.
func NewProvider(cfg Config, log logger.Logger) (Provider, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1
	}

	if !cfg.TraceEnabled && !cfg.MetricsEnabled {
		log.Debug().Msg("Observability disabled, using no-op provider")
		return newNoopProvider(), nil
	}

	p := &provider{config: cfg, log: log}

	if cfg.TraceEnabled {
		if err := p.initTraceProvider(); err != nil {
			return nil, fmt.Errorf("failed to initialize trace provider: %w", err)
		}
		otel.SetTracerProvider(p.tracerProvider)
		log.Info().
			Str("endpoint", cfg.TraceEndpoint).
			Interface("sample_rate", cfg.SampleRate).
			Msg("Tracing enabled")
	}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		p.metrics = NewMetrics(reg)
		log.Info().Msg("Prometheus metrics enabled")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return p, nil
}

// MustNewProvider creates a new observability provider and panics on error.
func MustNewProvider(cfg Config, log logger.Logger) Provider {
	p, err := NewProvider(cfg, log)
	if err != nil {
		panic(fmt.Errorf("failed to create observability provider: %w", err))
	}
	return p
}

// initTraceProvider initializes the OpenTelemetry trace provider.
func (p *provider) initTraceProvider() error {
	res, err := p.createResource()
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := p.createTraceExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var processor sdktrace.SpanProcessor
	if p.config.TraceEndpoint == EndpointStdout {
		// spans show up as they end instead of once per batch
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(newDebugSpanProcessor(processor, p.log)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SampleRate))),
	)
	return nil
}

// createResource creates an OpenTelemetry resource with service information.
func (p *provider) createResource() (*resource.Resource, error) {
	customRes, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.DeploymentEnvironmentName(p.config.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), customRes)
}

// createTraceExporter creates a trace exporter based on the configured endpoint.
func (p *provider) createTraceExporter() (sdktrace.SpanExporter, error) {
	if p.config.TraceEndpoint == EndpointStdout {
		w := p.config.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	}
	return p.createOTLPHTTPExporter()
}

// createOTLPHTTPExporter creates an OTLP HTTP trace exporter.
// Endpoints may be given as host:port or as a full URL.
func (p *provider) createOTLPHTTPExporter() (sdktrace.SpanExporter, error) {
	endpoint := p.config.TraceEndpoint
	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}

	if p.config.TraceInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(p.config.TraceHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(p.config.TraceHeaders))
	}

	return otlptracehttp.New(context.Background(), opts...)
}

// TracerProvider returns the configured trace provider.
func (p *provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return noop.NewTracerProvider()
	}
	return p.tracerProvider
}

func (p *provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown gracefully shuts down the provider.
func (p *provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown trace provider: %w", err)
	}
	return nil
}

// ForceFlush immediately flushes any pending telemetry data.
func (p *provider) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush trace provider: %w", err)
	}
	return nil
}
