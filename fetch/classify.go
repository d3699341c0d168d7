package fetch

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/url"
	"slices"
	"strings"
)

// AttemptKind classifies how a single attempt ended.
type AttemptKind string

const (
	KindSuccess      AttemptKind = "success"
	KindServerError  AttemptKind = "retryable-server-error"
	KindClientError  AttemptKind = "non-retryable-client-error"
	KindNetworkError AttemptKind = "network-error"
	KindTimeout      AttemptKind = "timeout"
	// KindCanceled means the caller's own context ended the attempt.
	KindCanceled AttemptKind = "canceled"
)

// Retryable reports whether another attempt may follow an attempt of this kind.
func (k AttemptKind) Retryable() bool {
	return k == KindServerError || k == KindNetworkError
}

// ErrAttemptTimeout is the cancellation cause recorded when an attempt deadline fires.
var ErrAttemptTimeout = errors.New("attempt deadline exceeded")

// Classify maps the result of one round trip onto an AttemptKind. cause is
// context.Cause of the attempt context and distinguishes a fired attempt
// deadline from a caller cancellation.
func Classify(resp *nethttp.Response, err, cause error, allow []int) AttemptKind {
	if err != nil {
		return classifyError(err, cause)
	}
	if resp == nil {
		return KindNetworkError
	}
	return ClassifyStatus(resp.StatusCode, allow)
}

// ClassifyStatus classifies a received status code.
func ClassifyStatus(code int, allow []int) AttemptKind {
	switch {
	case slices.Contains(allow, code):
		return KindSuccess
	case code >= 200 && code < 400:
		return KindSuccess
	case code >= 400 && code < 500:
		return KindClientError
	default:
		// 5xx, plus informational codes that should never end an exchange
		return KindServerError
	}
}

// classifyError decides from the attempt context's cause. Transport-level
// timeouts (dial, TLS handshake) leave no cause and count as network errors.
func classifyError(err, cause error) AttemptKind {
	switch {
	case errors.Is(cause, ErrAttemptTimeout), errors.Is(err, ErrAttemptTimeout):
		return KindTimeout
	case errors.Is(cause, context.DeadlineExceeded):
		return KindTimeout
	case cause != nil:
		return KindCanceled
	case isClientTimeout(err):
		return KindTimeout
	default:
		return KindNetworkError
	}
}

// isClientTimeout matches an expired http.Client.Timeout, which cancels the
// request internally and leaves the attempt context untouched.
func isClientTimeout(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout() && strings.Contains(urlErr.Error(), "Client.Timeout")
}
