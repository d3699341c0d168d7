package server

// Headers already provided by Echo (echo.HeaderContentType, echo.HeaderXRequestID, etc.)
// should be used directly from the echo package.
const (
	// HeaderXResponseTime reports request processing duration.
	// Set by the timing middleware on all responses.
	HeaderXResponseTime = "X-Response-Time"

	// HeaderXThreadID echoes the chat thread id, generated when the caller sent none.
	HeaderXThreadID = "X-Thread-ID"

	// HeaderTraceParent is the W3C trace context header.
	HeaderTraceParent = "traceparent"
)
