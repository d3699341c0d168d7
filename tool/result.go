// Package tool converts upstream outcomes into the result shape returned to
// chat tool invocations. Callers render a failed Result as a message in the
// chat thread and never see raw transport errors.
package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gaborage/e2e-gateway/fetch"
)

// Category is the failure class exposed to callers. Only timeouts and
// network failures carry details; HTTP rejections and cancellations do not.
type Category string

const (
	CategoryTimeout Category = "timeout"
	CategoryNetwork Category = "network"
)

// ErrorDetails tells the caller how to react to a failure.
type ErrorDetails struct {
	Category        Category `json:"category"`
	IsRetryable     bool     `json:"isRetryable"`
	SuggestedAction string   `json:"suggestedAction"`
}

// Result is the caller contract: a parsed payload on success, or
// success=false with a human readable error.
type Result struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorDetails *ErrorDetails   `json:"errorDetails,omitempty"`
	// StatusCode is the last upstream HTTP status of a failed call, if any.
	StatusCode int `json:"statusCode,omitempty"`

	// status is the proxy answer chosen when the failure was classified
	status int
}

// Failed builds a failure without details, e.g. for rejected input.
func Failed(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FromError maps an error returned by fetch.Fetcher.Do. Only malformed
// requests end up here, so no retry advice is attached.
func FromError(err error) Result {
	var fl *fetch.Failure
	if errors.As(err, &fl) {
		return fromFailure(fl, "")
	}
	return Failed("invalid request: %v", err)
}

// FromOutcome converts a finished call. service names the upstream in
// suggestions ("worker", "backend"). A successful body is drained and closed.
func FromOutcome(out *fetch.Outcome, service string) Result {
	if out == nil {
		return Failed("no response from %s", service)
	}
	if out.Failure != nil {
		return fromFailure(out.Failure, service)
	}

	body, err := out.Bytes()
	if err != nil {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("reading %s response: %v", service, err),
			ErrorDetails: &ErrorDetails{
				Category:        CategoryNetwork,
				IsRetryable:     true,
				SuggestedAction: connectivityAdvice(service),
			},
		}
	}
	return fromPayload(body)
}

// fromPayload passes JSON payloads through. Upstreams report their own
// failures as {"success": false, "error": ...} with a 200 status.
func fromPayload(body []byte) Result {
	if len(body) == 0 {
		return Result{Success: true}
	}
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		return Result{Success: true, Data: quoted}
	}

	var envelope struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "upstream reported failure"
		}
		return Result{Success: false, Data: body, Error: msg}
	}
	return Result{Success: true, Data: body}
}

func fromFailure(fl *fetch.Failure, service string) Result {
	r := Result{Success: false, StatusCode: fl.StatusCode}

	switch fl.Kind {
	case fetch.FailureTimeout:
		r.status = http.StatusGatewayTimeout
		r.Error = fmt.Sprintf("Request timed out after %s", fl.Timeout)
		r.ErrorDetails = &ErrorDetails{
			Category:        CategoryTimeout,
			IsRetryable:     fl.Retryable(),
			SuggestedAction: "Reduce the workload: use fewer steps or split the test into smaller runs.",
		}
	case fetch.FailureCanceled:
		// nginx's "client closed request"
		r.status = 499
		r.Error = "Request was canceled"
	case fetch.FailureHTTP:
		if fl.ClientRejected() {
			r.status = fl.StatusCode
			r.Error = fmt.Sprintf("Request rejected with HTTP %d", fl.StatusCode)
			if reason := serverMessage(fl.Body); reason != "" {
				r.Error += ": " + reason
			}
		} else {
			r.status = http.StatusBadGateway
			r.Error = fmt.Sprintf("Request failed with HTTP %d after %d attempt(s)", fl.StatusCode, len(fl.Attempts))
		}
	default:
		r.status = http.StatusBadGateway
		r.Error = fmt.Sprintf("Could not reach %s after %d attempt(s)", nameOr(service, "the service"), len(fl.Attempts))
		r.ErrorDetails = &ErrorDetails{
			Category:        CategoryNetwork,
			IsRetryable:     fl.Retryable(),
			SuggestedAction: connectivityAdvice(service),
		}
	}
	return r
}

// serverMessage extracts a human readable reason from an error body.
func serverMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}

	var fields map[string]any
	if json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"error", "detail", "message"} {
			switch v := fields[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if m, ok := v["message"].(string); ok && m != "" {
					return m
				}
			}
		}
	}

	const limit = 500
	s := string(body)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func connectivityAdvice(service string) string {
	return fmt.Sprintf("Check that %s is running and reachable from the gateway.", nameOr(service, "the service"))
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return "the " + name
}

// HTTPStatus maps a Result onto the status a proxy route should answer with.
func (r Result) HTTPStatus() int {
	switch {
	case r.Success, r.Data != nil:
		// upstream answered; a reported failure travels in the body
		return http.StatusOK
	case r.status != 0:
		return r.status
	case r.ErrorDetails == nil:
		return http.StatusBadRequest
	case r.ErrorDetails.Category == CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
