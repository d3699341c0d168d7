package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/e2e-gateway/config"
	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/observability"
)

// SetupMiddlewares configures and registers all HTTP middlewares for the Echo server.
// No request timeout or gzip: chat responses stream and flush per event.
func SetupMiddlewares(e *echo.Echo, log logger.Logger, cfg *config.Config, metrics *observability.Metrics, tp trace.TracerProvider) {
	// Request ID
	e.Use(middleware.RequestID())

	// Request id into the request context for logging and outbound calls
	e.Use(TraceContext())

	// Server spans; outbound fetch spans become its children
	otelOpts := []otelecho.Option{otelecho.WithSkipper(func(c echo.Context) bool {
		return c.Path() == cfg.Observability.Metrics.Path
	})}
	if tp != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(tp))
	}
	e.Use(otelecho.Middleware(cfg.App.Name, otelOpts...))

	// Metrics sit outside the logger so they observe the final status
	e.Use(Metrics(metrics, cfg.Observability.Metrics.Path))

	e.Use(Logger(log, LoggerConfig{
		SkipPaths:            []string{livenessPath, cfg.Observability.Metrics.Path},
		SlowRequestThreshold: 5 * time.Second,
	}))

	// Recovery
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.WithContext(c.Request().Context()).Error().
				Err(err).
				Str("stack", string(stack)).
				Msg("Panic recovered")
			return err
		},
	}))

	e.Use(CORS(cfg.Server.CORS))

	// Security headers
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	e.Use(RateLimit(cfg.Server.RateLimit))

	e.Use(Timing())
}

// Metrics records every request on m. A nil m disables the middleware.
func Metrics(m *observability.Metrics, skipPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			if c.Path() == skipPath {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, route, c.Response().Status, time.Since(start))
			return err
		}
	}
}
