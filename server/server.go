// Package server exposes the gateway's HTTP surface using Echo: health,
// a streaming chat proxy to the backend and browser-automation routes.
package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/e2e-gateway/config"
	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/observability"
	"github.com/gaborage/e2e-gateway/orchestrator"
	"github.com/gaborage/e2e-gateway/tool"
	"github.com/gaborage/e2e-gateway/worker"
)

// ChatStreamer opens a backend chat stream. Implemented by *orchestrator.Client.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req *orchestrator.ChatRequest) (*fetch.Outcome, error)
}

// BrowserRunner runs a worker action. Implemented by *worker.Client.
type BrowserRunner interface {
	Run(ctx context.Context, action worker.Action, req worker.Request) tool.Result
}

// HealthReporter aggregates upstream probes. Implemented by *health.Aggregator.
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Chat    ChatStreamer
	Browser BrowserRunner
	Health  HealthReporter
	// Metrics enables /metrics and request metrics when non-nil
	Metrics        *observability.Metrics
	TracerProvider trace.TracerProvider
}

// Server represents an HTTP server instance with Echo framework.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger logger.Logger
	deps   Deps
}

// New creates the server with middlewares, error handling and all routes registered.
func New(cfg *config.Config, log logger.Logger, deps Deps) *Server {
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(log, cfg.App.Debug)
	if v := NewValidator(); v != nil {
		e.Validator = v
	} else {
		log.Fatal().Msg("failed to initialize request validator")
	}

	SetupMiddlewares(e, log, cfg, deps.Metrics, deps.TracerProvider)

	s := &Server{
		echo:   e,
		cfg:    cfg,
		logger: log,
		deps:   deps,
	}
	s.registerRoutes()
	return s
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start begins accepting requests and blocks until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.logger.Info().
		Str("service", s.cfg.App.Name).
		Str("version", s.cfg.App.Version).
		Str("env", s.cfg.App.Env).
		Str("address", addr).
		Msg("Starting server...")

	server := &http.Server{
		Addr:        addr,
		ReadTimeout: s.cfg.Server.Timeout.Read,
		// zero keeps chat streams open as long as the backend sends
		WriteTimeout: s.cfg.Server.Timeout.Write,
		IdleTimeout:  s.cfg.Server.Timeout.Idle,
	}
	return s.echo.StartServer(server)
}

// Shutdown gracefully shuts down the HTTP server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Run starts the server and shuts it down gracefully once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		if goerrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", s.cfg.Server.Timeout.Shutdown).Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.Timeout.Shutdown)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
