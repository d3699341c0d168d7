package fetch

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/e2e-gateway/logger"
)

const (
	// DefaultTimeout applies when a RequestSpec leaves Timeout unset
	DefaultTimeout = 60 * time.Second

	// MaxErrorBody caps how much of a 4xx/5xx body is kept on a Failure
	MaxErrorBody = 64 << 10

	tracerName = "github.com/gaborage/e2e-gateway/fetch"
)

// Doer is the contract consumed by upstream clients.
type Doer interface {
	Do(ctx context.Context, spec RequestSpec) (*Outcome, error)
}

// RequestInterceptor is called once per call, before the first attempt. Every
// attempt sends a copy of the intercepted request.
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// Observer receives attempt-level events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(endpoint string, a Attempt)
	ObserveBackoff(endpoint string, d time.Duration)
	ObserveOutcome(endpoint string, o *Outcome)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, Attempt)       {}
func (nopObserver) ObserveBackoff(string, time.Duration) {}
func (nopObserver) ObserveOutcome(string, *Outcome)      {}

// Fetcher executes RequestSpecs. It holds no per-call state and is safe for
// concurrent use.
type Fetcher struct {
	httpClient     *nethttp.Client
	logger         logger.Logger
	clock          Clock
	backoff        BackoffPolicy
	defaultTimeout time.Duration
	defaultHeaders map[string]string
	interceptors   []RequestInterceptor
	observer       Observer
	tracer         trace.Tracer
	maxErrorBody   int64
}

var _ Doer = (*Fetcher)(nil)

// New creates a Fetcher with default configuration
func New(log logger.Logger) *Fetcher {
	return NewBuilder(log).Build()
}

// Builder provides a fluent interface for configuring a Fetcher
type Builder struct {
	f *Fetcher
}

// NewBuilder creates a new Fetcher builder. Trace headers are propagated by default.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{f: &Fetcher{
		httpClient:     &nethttp.Client{},
		logger:         log,
		clock:          SystemClock,
		backoff:        DefaultBackoff,
		defaultTimeout: DefaultTimeout,
		defaultHeaders: make(map[string]string),
		interceptors:   []RequestInterceptor{TraceHeaders()},
		observer:       nopObserver{},
		tracer:         otel.GetTracerProvider().Tracer(tracerName),
		maxErrorBody:   MaxErrorBody,
	}}
}

// WithHTTPClient replaces the underlying client. Its Timeout, if any, acts as
// an additional bound classified as a timeout.
func (b *Builder) WithHTTPClient(c *nethttp.Client) *Builder {
	if c != nil {
		b.f.httpClient = c
	}
	return b
}

// WithTransport sets the round tripper on the underlying client
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	clone := *b.f.httpClient
	clone.Transport = rt
	b.f.httpClient = &clone
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	if c != nil {
		b.f.clock = c
	}
	return b
}

func (b *Builder) WithBackoff(p BackoffPolicy) *Builder {
	b.f.backoff = p
	return b
}

// WithDefaultTimeout sets the per-attempt timeout used when a spec leaves it unset
func (b *Builder) WithDefaultTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.f.defaultTimeout = d
	}
	return b
}

// WithDefaultHeader adds a header sent with every request unless the spec overrides it
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.f.defaultHeaders[key] = value
	return b
}

func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.f.interceptors = append(b.f.interceptors, interceptor)
	return b
}

func (b *Builder) WithObserver(o Observer) *Builder {
	if o != nil {
		b.f.observer = o
	}
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	if tp != nil {
		b.f.tracer = tp.Tracer(tracerName)
	}
	return b
}

// Build returns the configured Fetcher
func (b *Builder) Build() *Fetcher {
	f := *b.f
	f.defaultHeaders = make(map[string]string, len(b.f.defaultHeaders))
	for k, v := range b.f.defaultHeaders {
		f.defaultHeaders[k] = v
	}
	f.interceptors = append([]RequestInterceptor(nil), b.f.interceptors...)
	return &f
}

// Do executes spec, retrying retryable failures, and returns the classified Outcome.
// The returned error is non-nil only for a malformed spec or an interceptor
// failure, both detected before any attempt starts.
func (f *Fetcher) Do(ctx context.Context, spec RequestSpec) (*Outcome, error) {
	spec = f.withDefaults(spec.clone())
	if err := spec.validate(); err != nil {
		return nil, err
	}

	ctx, span := f.tracer.Start(ctx, "fetch "+spec.Endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", spec.Method),
			attribute.String("url.full", spec.URL),
			attribute.Int("fetch.max_retries", spec.MaxRetries),
			attribute.Bool("fetch.stream", spec.Stream),
		))
	defer span.End()

	tmpl, err := f.buildRequest(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log := f.logger.WithContext(ctx)
	start := f.clock.Now()
	out := &Outcome{}
	schedule := f.backoff.Schedule()

	for i := 0; i <= spec.MaxRetries; i++ {
		res := f.attempt(ctx, spec, tmpl, i)

		out.Attempts = append(out.Attempts, res.attempt)
		f.observer.ObserveAttempt(spec.Endpoint, res.attempt)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("fetch.attempt", i),
			attribute.String("fetch.kind", string(res.attempt.Kind)),
			attribute.Int("http.response.status_code", res.attempt.StatusCode),
		))
		log.Debug().
			Str("endpoint", spec.Endpoint).
			Int("attempt", i).
			Str("kind", string(res.attempt.Kind)).
			Int("status", res.attempt.StatusCode).
			Dur("elapsed", res.attempt.Elapsed).
			Msg("Upstream attempt finished")

		if res.attempt.Kind == KindSuccess {
			out.Response = res.resp
			break
		}
		if !res.attempt.Kind.Retryable() || i == spec.MaxRetries {
			out.Failure = f.failure(spec, res, out.Attempts)
			break
		}

		delay := schedule.NextBackOff()
		f.observer.ObserveBackoff(spec.Endpoint, delay)
		if err := f.clock.Sleep(ctx, delay); err != nil {
			interrupted := attemptResult{attempt: Attempt{Kind: classifyError(err, context.Cause(ctx)), Err: err}}
			out.Failure = f.failure(spec, interrupted, out.Attempts)
			break
		}
	}

	out.Elapsed = f.clock.Now().Sub(start)
	f.observer.ObserveOutcome(spec.Endpoint, out)
	f.logOutcome(log, spec, out)
	if out.Failure != nil {
		span.SetStatus(codes.Error, string(out.Failure.Kind))
	}
	return out, nil
}

func (f *Fetcher) withDefaults(spec RequestSpec) RequestSpec {
	if spec.Method == "" {
		spec.Method = nethttp.MethodGet
	}
	if spec.Timeout == 0 {
		spec.Timeout = f.defaultTimeout
	}
	if spec.Endpoint == "" {
		spec.Endpoint = "upstream"
	}
	return spec
}

type attemptResult struct {
	attempt Attempt
	resp    *nethttp.Response
	body    []byte
	header  nethttp.Header
}

// attempt performs one round trip under its own deadline timer. The timer is
// stopped and the attempt context released on every return path, except that
// a streaming success hands context release to the response body's Close.
func (f *Fetcher) attempt(ctx context.Context, spec RequestSpec, tmpl *nethttp.Request, index int) attemptResult {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := f.clock.AfterFunc(spec.Timeout, func() { cancel(ErrAttemptTimeout) })
	handedOff := false
	defer func() {
		timer.Stop()
		if !handedOff {
			cancel(context.Canceled)
		}
	}()

	res := attemptResult{attempt: Attempt{Index: index}}
	started := f.clock.Now()

	resp, err := f.httpClient.Do(cloneRequest(attemptCtx, tmpl))
	kind := Classify(resp, err, context.Cause(attemptCtx), spec.AllowStatus)

	if err == nil {
		res.attempt.StatusCode = resp.StatusCode
		switch {
		case kind == KindSuccess && spec.Stream:
			if !timer.Stop() {
				// deadline fired while headers were arriving
				resp.Body.Close()
				kind, err = KindTimeout, ErrAttemptTimeout
				break
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			res.resp = resp
			handedOff = true
		case kind == KindSuccess:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				kind, err = classifyError(readErr, context.Cause(attemptCtx)), readErr
				break
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
			res.resp = resp
		default:
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxErrorBody))
			if readErr != nil {
				// keep what arrived; the status already decides the outcome
				f.logger.WithContext(ctx).Debug().
					Err(readErr).
					Str("endpoint", spec.Endpoint).
					Int("status", resp.StatusCode).
					Int("bytes_read", len(body)).
					Msg("Error response body incomplete")
			}
			res.body = body
			res.header = resp.Header
			resp.Body.Close()
		}
	}

	res.attempt.Kind = kind
	res.attempt.Err = err
	res.attempt.Elapsed = f.clock.Now().Sub(started)
	return res
}

// cloneRequest copies tmpl onto ctx with an unread body.
func cloneRequest(ctx context.Context, tmpl *nethttp.Request) *nethttp.Request {
	req := tmpl.Clone(ctx)
	if tmpl.GetBody != nil {
		// GetBody on a bytes.Reader body never fails
		req.Body, _ = tmpl.GetBody()
	}
	return req
}

func (f *Fetcher) failure(spec RequestSpec, res attemptResult, attempts []Attempt) *Failure {
	fl := &Failure{
		Endpoint:   spec.Endpoint,
		StatusCode: lastStatus(attempts),
		Body:       res.body,
		Header:     res.header,
		Err:        res.attempt.Err,
		Timeout:    spec.Timeout,
		Attempts:   attempts,
	}
	switch res.attempt.Kind {
	case KindTimeout:
		fl.Kind = FailureTimeout
	case KindCanceled:
		fl.Kind = FailureCanceled
	case KindClientError, KindServerError:
		fl.Kind = FailureHTTP
	default:
		fl.Kind = FailureNetwork
	}
	return fl
}

func lastStatus(attempts []Attempt) int {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].StatusCode != 0 {
			return attempts[i].StatusCode
		}
	}
	return 0
}

// buildRequest constructs the request template, applies headers and runs request interceptors.
func (f *Fetcher) buildRequest(ctx context.Context, spec RequestSpec) (*nethttp.Request, error) {
	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}

	req, err := nethttp.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, NewValidationError("failed to create HTTP request: "+err.Error(), "url")
	}

	for key, value := range f.defaultHeaders {
		req.Header.Set(key, value)
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && spec.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, interceptor := range f.interceptors {
		if err := interceptor(ctx, req); err != nil {
			return nil, NewInterceptorError("request interceptor failed", err)
		}
	}
	return req, nil
}

func (f *Fetcher) logOutcome(log logger.Logger, spec RequestSpec, out *Outcome) {
	if out.Failure == nil {
		log.Info().
			Str("direction", "outbound").
			Str("endpoint", spec.Endpoint).
			Str("method", spec.Method).
			Str("url", spec.URL).
			Int("status", out.Response.StatusCode).
			Int("attempts", len(out.Attempts)).
			Dur("elapsed", out.Elapsed).
			Msg("Upstream call succeeded")
		return
	}

	log.Warn().
		Str("direction", "outbound").
		Str("endpoint", spec.Endpoint).
		Str("method", spec.Method).
		Str("url", spec.URL).
		Str("failure", string(out.Failure.Kind)).
		Int("status", out.Failure.StatusCode).
		Int("attempts", len(out.Attempts)).
		Dur("elapsed", out.Elapsed).
		Err(out.Failure.Err).
		Msg("Upstream call failed")
}

// cancelOnClose releases the attempt context once a streamed body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(func() { c.cancel(context.Canceled) })
	return err
}
