package server

import (
	"time"

	"github.com/labstack/echo/v4"
)

// Timing returns a middleware that adds an X-Response-Time header. The value is
// taken when headers are written, so for streams it measures time to first byte.
func Timing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			resp := c.Response()
			resp.Before(func() {
				resp.Header().Set(HeaderXResponseTime, time.Since(start).String())
			})
			return next(c)
		}
	}
}
