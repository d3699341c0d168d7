package fetch

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"time"
)

// Attempt records one network try. Attempts are appended in order and owned
// by the call that produced them.
type Attempt struct {
	Index      int
	Kind       AttemptKind
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// FailureKind is the terminal failure category reported to callers.
type FailureKind string

const (
	FailureTimeout  FailureKind = "timeout"
	FailureNetwork  FailureKind = "network"
	FailureHTTP     FailureKind = "http-error"
	FailureCanceled FailureKind = "canceled"
)

// Failure describes why a call gave up. It implements error and ClientError.
type Failure struct {
	Kind     FailureKind
	Endpoint string
	// StatusCode is the last HTTP status observed across attempts, 0 if none.
	StatusCode int
	// Body holds up to MaxErrorBody bytes of the final error response.
	Body     []byte
	Header   nethttp.Header
	Err      error
	Timeout  time.Duration
	Attempts []Attempt
}

func (f *Failure) Error() string {
	tries := len(f.Attempts)
	switch f.Kind {
	case FailureTimeout:
		return fmt.Sprintf("%s: timed out after %v (attempt %d)", f.Endpoint, f.Timeout, tries)
	case FailureHTTP:
		if len(f.Body) > 0 {
			return fmt.Sprintf("%s: HTTP %d after %d attempt(s): %s", f.Endpoint, f.StatusCode, tries, snippet(f.Body))
		}
		return fmt.Sprintf("%s: HTTP %d after %d attempt(s)", f.Endpoint, f.StatusCode, tries)
	case FailureCanceled:
		return fmt.Sprintf("%s: canceled after %d attempt(s)", f.Endpoint, tries)
	default:
		return fmt.Sprintf("%s: network error after %d attempt(s): %v", f.Endpoint, tries, f.Err)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Type maps the failure onto the package error taxonomy.
func (f *Failure) Type() ErrorType {
	switch f.Kind {
	case FailureTimeout:
		return TimeoutError
	case FailureHTTP:
		return HTTPError
	case FailureCanceled:
		return CanceledError
	default:
		return NetworkError
	}
}

// ClientRejected reports a 4xx rejection of the request as formed.
func (f *Failure) ClientRejected() bool {
	return f.Kind == FailureHTTP && f.StatusCode >= 400 && f.StatusCode < 500
}

// Retryable reports whether the caller could reasonably try again later.
// Timeouts qualify since a smaller workload may succeed.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureTimeout, FailureNetwork:
		return true
	case FailureHTTP:
		return !f.ClientRejected()
	default:
		return false
	}
}

// Outcome is the result of one Do call: exactly one of Response or Failure is set.
type Outcome struct {
	Response *nethttp.Response
	Failure  *Failure
	Attempts []Attempt
	Elapsed  time.Duration
}

// OK reports whether the call succeeded.
func (o *Outcome) OK() bool {
	return o != nil && o.Response != nil && o.Failure == nil
}

// Bytes drains and closes a successful response body.
func (o *Outcome) Bytes() ([]byte, error) {
	if !o.OK() {
		if o != nil && o.Failure != nil {
			return nil, o.Failure
		}
		return nil, errNoResponse
	}
	defer o.Response.Body.Close()
	return io.ReadAll(o.Response.Body)
}

// Close releases a successful response body. Streaming callers must call it
// (or close Response.Body) to release the attempt context.
func (o *Outcome) Close() error {
	if !o.OK() {
		return nil
	}
	return o.Response.Body.Close()
}

var errNoResponse = errors.New("outcome has no response")

const snippetLimit = 256

func snippet(b []byte) string {
	if len(b) > snippetLimit {
		return string(b[:snippetLimit]) + "..."
	}
	return string(b)
}
