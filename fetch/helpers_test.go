package fetch

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type roundTripperFunc func(*nethttp.Request) (*nethttp.Response, error)

func (f roundTripperFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

func statusResponse(code int, body string) *nethttp.Response {
	return &nethttp.Response{
		StatusCode: code,
		Header:     make(nethttp.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

var errConnRefused = &opError{err: syscall.ECONNREFUSED}

// opError mimics a dial failure that is not a timeout
type opError struct{ err error }

func (e *opError) Error() string   { return "dial tcp 127.0.0.1:1: " + e.err.Error() }
func (e *opError) Unwrap() error   { return e.err }
func (e *opError) Timeout() bool   { return false }
func (e *opError) Temporary() bool { return false }

// step scripts one attempt of a fake upstream
type step func(req *nethttp.Request) (*nethttp.Response, error)

func respond(code int, body string) step {
	return func(*nethttp.Request) (*nethttp.Response, error) { return statusResponse(code, body), nil }
}

func fail(err error) step {
	return func(*nethttp.Request) (*nethttp.Response, error) { return nil, err }
}

func hang() step {
	return func(req *nethttp.Request) (*nethttp.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
}

// scriptedTransport replays steps in order, repeating the last one
type scriptedTransport struct {
	steps []step
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []*nethttp.Request
}

func script(steps ...step) *scriptedTransport {
	return &scriptedTransport{steps: steps}
}

func (s *scriptedTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if n >= len(s.steps) {
		n = len(s.steps) - 1
	}
	return s.steps[n](req)
}

func (s *scriptedTransport) Calls() int {
	return int(s.calls.Load())
}

// recordingClock records backoff sleeps without waiting and tracks armed timers
type recordingClock struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	armed   int
	pending int
}

func (c *recordingClock) Now() time.Time { return time.Now() }

func (c *recordingClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	c.armed++
	c.pending++
	c.mu.Unlock()

	rt := &recordedTimer{clock: c}
	rt.t = time.AfterFunc(d, func() {
		rt.release()
		f()
	})
	return rt
}

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *recordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *recordingClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *recordingClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

type recordedTimer struct {
	t     *time.Timer
	once  sync.Once
	clock *recordingClock
}

func (r *recordedTimer) release() {
	r.once.Do(func() {
		r.clock.mu.Lock()
		r.clock.pending--
		r.clock.mu.Unlock()
	})
}

func (r *recordedTimer) Stop() bool {
	stopped := r.t.Stop()
	if stopped {
		r.release()
	}
	return stopped
}

// recordingObserver captures Observer callbacks
type recordingObserver struct {
	mu       sync.Mutex
	attempts []Attempt
	backoffs []time.Duration
	outcomes []*Outcome
}

func (o *recordingObserver) ObserveAttempt(_ string, a Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a)
}

func (o *recordingObserver) ObserveBackoff(_ string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backoffs = append(o.backoffs, d)
}

func (o *recordingObserver) ObserveOutcome(_ string, out *Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func newTestFetcher(rt nethttp.RoundTripper, clock Clock) *Fetcher {
	return NewBuilder(nil).WithTransport(rt).WithClock(clock).Build()
}

var errBoom = errors.New("boom")
