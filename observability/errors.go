package observability

import "errors"

// ErrInvalidSampleRate is returned when the trace sample rate is outside the valid range [0.0, 1.0].
var ErrInvalidSampleRate = errors.New("observability: trace sample rate must be between 0.0 and 1.0")

// ErrMissingEndpoint is returned when tracing is enabled without an exporter endpoint.
var ErrMissingEndpoint = errors.New("observability: trace endpoint is required when tracing is enabled")

// ErrMissingServiceName is returned when no service name is configured.
var ErrMissingServiceName = errors.New("observability: service name is required")
