package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/e2e-gateway/fetch"
)

type fakeChecker struct {
	name  string
	state State
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeChecker) Name() string { return f.name }

func (f *fakeChecker) Check(ctx context.Context) Status {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
	st := Status{Component: f.name, State: f.state}
	if f.state != StateConnected {
		st.Error = "down"
	}
	return st
}

type recorder struct {
	mu sync.Mutex
	up map[string]bool
}

func (r *recorder) SetComponentUp(component string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up[component] = up
}

func response(code int) *fetch.Outcome {
	return &fetch.Outcome{
		Response: &http.Response{StatusCode: code, Status: http.StatusText(code), Body: io.NopCloser(strings.NewReader(""))},
		Elapsed:  15 * time.Millisecond,
	}
}

func TestFromOutcome(t *testing.T) {
	st := FromOutcome("backend", response(200), nil)
	assert.True(t, st.Available())
	assert.Equal(t, "backend", st.Component)
	assert.Equal(t, int64(15), st.LatencyMs)
	assert.Empty(t, st.Error)

	st = FromOutcome("backend", response(302), nil)
	assert.False(t, st.Available(), "only 2xx counts as available")
	assert.NotEmpty(t, st.Error)

	st = FromOutcome("worker", &fetch.Outcome{Failure: &fetch.Failure{Kind: fetch.FailureNetwork, Endpoint: "worker.health", Err: errors.New("refused")}}, nil)
	assert.Equal(t, StateDisconnected, st.State)
	assert.Contains(t, st.Error, "refused")

	st = FromOutcome("worker", nil, errors.New("bad url"))
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, "bad url", st.Error)
}

func TestAggregatorAllConnected(t *testing.T) {
	backend := &fakeChecker{name: "backend", state: StateConnected}
	worker := &fakeChecker{name: "worker", state: StateConnected}
	rec := &recorder{up: map[string]bool{}}

	report := NewAggregator(nil, backend, worker).WithRecorder(rec).Check(context.Background())

	assert.Equal(t, StateConnected, report.Status)
	require.Len(t, report.Components, 2)
	assert.True(t, report.Components["backend"].Available())
	assert.Equal(t, map[string]bool{"backend": true, "worker": true}, rec.up)
}

func TestAggregatorOneDown(t *testing.T) {
	report := NewAggregator(nil,
		&fakeChecker{name: "backend", state: StateConnected},
		&fakeChecker{name: "worker", state: StateDisconnected},
	).Check(context.Background())

	assert.Equal(t, StateDisconnected, report.Status)
	assert.False(t, report.Components["worker"].Available())
	assert.Equal(t, "down", report.Components["worker"].Error)
}

func TestAggregatorProbesConcurrently(t *testing.T) {
	checkers := []Checker{
		&fakeChecker{name: "a", state: StateConnected, delay: 100 * time.Millisecond},
		&fakeChecker{name: "b", state: StateConnected, delay: 100 * time.Millisecond},
		&fakeChecker{name: "c", state: StateConnected, delay: 100 * time.Millisecond},
	}

	start := time.Now()
	report := NewAggregator(nil, checkers...).Check(context.Background())

	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Len(t, report.Components, 3)
}

func TestAggregatorNoCheckers(t *testing.T) {
	report := NewAggregator(nil).Check(context.Background())
	assert.Equal(t, StateConnected, report.Status)
	assert.Empty(t, report.Components)
}

type namelessChecker struct{}

func (namelessChecker) Name() string                 { return "anon" }
func (namelessChecker) Check(context.Context) Status { return Status{State: StateConnected} }

func TestAggregatorFillsComponentName(t *testing.T) {
	report := NewAggregator(nil, namelessChecker{}).Check(context.Background())
	assert.Contains(t, report.Components, "anon")
}
