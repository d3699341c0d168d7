package server

import (
	"github.com/labstack/echo/v4"

	"github.com/gaborage/e2e-gateway/trace"
)

// TraceContext puts the resolved request id into the request context so the
// logger and outbound fetch calls pick it up without depending on Echo.
func TraceContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := trace.WithTraceID(req.Context(), getTraceID(c))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
