// Package app assembles the gateway from configuration: logging, telemetry,
// the shared fetcher, both upstream clients, health aggregation and the HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gaborage/e2e-gateway/config"
	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/observability"
	"github.com/gaborage/e2e-gateway/orchestrator"
	"github.com/gaborage/e2e-gateway/server"
	"github.com/gaborage/e2e-gateway/worker"
)

// App represents the main application instance.
// It owns every component and their shutdown order.
type App struct {
	cfg       *config.Config
	logger    logger.Logger
	telemetry observability.Provider
	fetcher   *fetch.Fetcher
	backend   *orchestrator.Client
	worker    *worker.Client
	health    *health.Aggregator
	server    *server.Server
}

// New wires every component from cfg. Nothing is started.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Str("version", cfg.App.Version).
		Str("backend_url", cfg.Backend.URL).
		Str("worker_url", cfg.Worker.URL).
		Msg("Starting application")

	telemetry, err := observability.NewProvider(TelemetryConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	fetcher := newFetcher(cfg, log, telemetry)

	backend, err := orchestrator.New(BackendConfig(cfg), fetcher, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	wk, err := worker.New(WorkerConfig(cfg), fetcher, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker client: %w", err)
	}

	agg := health.NewAggregator(log, backend, wk)
	if m := telemetry.Metrics(); m != nil {
		agg.WithRecorder(m)
	}

	srv := server.New(cfg, log, server.Deps{
		Chat:           backend,
		Browser:        wk,
		Health:         agg,
		Metrics:        telemetry.Metrics(),
		TracerProvider: telemetry.TracerProvider(),
	})

	return &App{
		cfg:       cfg,
		logger:    log,
		telemetry: telemetry,
		fetcher:   fetcher,
		backend:   backend,
		worker:    wk,
		health:    agg,
		server:    srv,
	}, nil
}

func newFetcher(cfg *config.Config, log logger.Logger, telemetry observability.Provider) *fetch.Fetcher {
	b := fetch.NewBuilder(log).
		WithBackoff(fetch.BackoffPolicy{Base: cfg.Retry.BaseDelay, Max: cfg.Retry.MaxDelay}).
		WithDefaultHeader("User-Agent", cfg.App.Name+"/"+cfg.App.Version).
		WithTracerProvider(telemetry.TracerProvider())
	if m := telemetry.Metrics(); m != nil {
		b.WithObserver(m)
	}
	return b.Build()
}

// TelemetryConfig maps the observability section onto the provider settings.
func TelemetryConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
		TraceEnabled:   cfg.Observability.Trace.Enabled,
		TraceEndpoint:  cfg.Observability.Trace.Endpoint,
		TraceInsecure:  cfg.Observability.Trace.Insecure,
		SampleRate:     cfg.Observability.Trace.SampleRate,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
	}
}

// BackendConfig applies the shared retry policy to the backend budgets.
func BackendConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		BackendURL:    cfg.Backend.URL,
		HealthTimeout: cfg.Backend.Timeout.Health,
		ChatTimeout:   cfg.Backend.Timeout.Chat,
		MaxRetries:    cfg.Retry.MaxRetries,
	}
}

// WorkerConfig applies the shared retry policy to the worker budgets.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		WorkerURL:      cfg.Worker.URL,
		HealthTimeout:  cfg.Worker.Timeout.Health,
		ActionTimeout:  cfg.Worker.Timeout.Action,
		MinTestTimeout: cfg.Worker.Timeout.TestMin,
		PerStep:        cfg.Worker.Timeout.PerStep,
		Overhead:       cfg.Worker.Timeout.Overhead,
		MaxRetries:     cfg.Retry.MaxRetries,
	}
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Health returns the upstream health aggregator.
func (a *App) Health() *health.Aggregator { return a.health }

// Worker returns the browser-automation client.
func (a *App) Worker() *worker.Client { return a.worker }

// Backend returns the orchestration backend client.
func (a *App) Backend() *orchestrator.Client { return a.backend }

// Run serves until ctx is done, then flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	go a.logUpstreams(ctx)

	runErr := a.server.Run(ctx)
	if err := a.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown telemetry")
	}

	a.logger.Info().Msg("Application shutdown complete")
	return runErr
}

// Close releases telemetry exporters. It is safe to call after Run.
func (a *App) Close() error {
	return observability.Shutdown(a.telemetry, a.cfg.Server.Timeout.Shutdown)
}

// logUpstreams probes both upstreams once at startup. Failures are logged,
// never fatal: either side may come up after the gateway.
func (a *App) logUpstreams(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	report := a.health.Check(probeCtx)
	a.logger.Info().
		Str("status", string(report.Status)).
		Int("components", len(report.Components)).
		Msg("Initial upstream health")
}
