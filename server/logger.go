package server

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/e2e-gateway/logger"
)

// LoggerConfig configures the request logging middleware.
type LoggerConfig struct {
	// SkipPaths are route patterns excluded from logging, e.g. liveness and metrics
	SkipPaths []string

	// SlowRequestThreshold marks requests as slow (result_code WARN) even on 2xx.
	// Zero disables the check.
	SlowRequestThreshold time.Duration
}

// Logger returns a request logging middleware emitting one summary per request.
func Logger(log logger.Logger, cfg LoggerConfig) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skip[c.Path()]; ok {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the response so status is final
				c.Error(err)
			}
			latency := time.Since(start)
			status := c.Response().Status

			logLevel, resultCode := determineSeverity(status, latency, cfg.SlowRequestThreshold, err)
			event := createLogEvent(log.WithContext(c.Request().Context()), logLevel)
			if err != nil {
				event = event.Err(err)
			}

			req := c.Request()
			event.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("http.request.method", req.Method).
				Int("http.response.status_code", status).
				Dur("http.server.request.duration", latency).
				Str("url.path", req.URL.Path).
				Str("http.route", c.Path()).
				Str("client.address", c.RealIP()).
				Str("user_agent.original", req.UserAgent()).
				Int64("http.response.body.size", c.Response().Size).
				Str("result_code", resultCode).
				Msgf("%s %s completed in %s with status %d", req.Method, req.URL.Path, latency, status)

			return nil
		}
	}
}

// determineSeverity calculates log severity and result_code based on HTTP status, latency, and errors.
func determineSeverity(status int, latency, threshold time.Duration, err error) (logLevel, resultCode string) {
	const (
		levelError = "error"
		levelWarn  = "warn"
		levelInfo  = "info"
		codeError  = "ERROR"
		codeWarn   = "WARN"
		codeInfo   = "INFO"
	)

	if status >= 500 || (err != nil && status == 0) {
		return levelError, codeError
	}
	if status >= 400 {
		return levelWarn, codeWarn
	}
	// slow requests keep INFO level but are flagged for filtering
	if threshold > 0 && latency > threshold {
		return levelInfo, codeWarn
	}
	return levelInfo, codeInfo
}

func createLogEvent(log logger.Logger, level string) logger.LogEvent {
	switch level {
	case "error":
		return log.Error()
	case "warn":
		return log.Warn()
	default:
		return log.Info()
	}
}
