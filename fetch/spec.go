package fetch

import (
	"maps"
	nethttp "net/http"
	"net/url"
	"slices"
	"time"
)

// RequestSpec describes one logical request. Do works on a private copy, so
// callers may reuse a spec across concurrent calls.
type RequestSpec struct {
	// Endpoint is a low-cardinality name used in logs, spans and metrics (e.g. "backend.health")
	Endpoint string
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	// Timeout bounds each attempt. Zero selects the Fetcher default.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// AllowStatus lists non-2xx/3xx statuses treated as success.
	AllowStatus []int
	// Stream leaves a successful response body unread for the caller to consume.
	Stream bool
}

var validMethods = []string{
	nethttp.MethodGet, nethttp.MethodHead, nethttp.MethodPost, nethttp.MethodPut,
	nethttp.MethodPatch, nethttp.MethodDelete, nethttp.MethodOptions,
}

func (s RequestSpec) clone() RequestSpec {
	s.Headers = maps.Clone(s.Headers)
	s.Body = slices.Clone(s.Body)
	s.AllowStatus = slices.Clone(s.AllowStatus)
	return s
}

// validate checks a spec after defaults were applied.
func (s RequestSpec) validate() error {
	if s.URL == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return NewValidationError("URL is malformed: "+err.Error(), "url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("URL scheme must be http or https", "url")
	}
	if u.Host == "" {
		return NewValidationError("URL must include a host", "url")
	}
	if !slices.Contains(validMethods, s.Method) {
		return NewValidationError("unsupported method "+s.Method, "method")
	}
	if s.Timeout <= 0 {
		return NewValidationError("timeout must be positive", "timeout")
	}
	if s.MaxRetries < 0 {
		return NewValidationError("max retries cannot be negative", "max_retries")
	}
	return nil
}
