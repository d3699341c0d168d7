package fetch

import (
	"context"
	nethttp "net/http"

	"go.opentelemetry.io/otel/propagation"

	"github.com/gaborage/e2e-gateway/trace"
)

var traceContext = propagation.TraceContext{}

// TraceHeaders propagates the inbound request ID and the W3C trace context of
// the active span to the upstream.
func TraceHeaders() RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(trace.HeaderXRequestID) == "" {
			if id, ok := trace.IDFromContext(ctx); ok {
				req.Header.Set(trace.HeaderXRequestID, id)
			}
		}
		traceContext.Inject(ctx, propagation.HeaderCarrier(req.Header))
		return nil
	}
}
