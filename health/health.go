// Package health probes the gateway's upstreams and aggregates their state.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/logger"
)

// State is the reported connectivity of a component.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Status is the result of one probe.
type Status struct {
	Component string        `json:"component"`
	State     State         `json:"status"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latencyMs"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Available reports whether the component answered the probe.
func (s Status) Available() bool {
	return s.State == StateConnected
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Status
}

// FromOutcome turns a probe call into a Status. Only a 2xx answer counts as
// connected.
func FromOutcome(component string, out *fetch.Outcome, err error) Status {
	st := Status{Component: component, State: StateDisconnected, CheckedAt: time.Now().UTC()}
	switch {
	case err != nil:
		st.Error = err.Error()
	case out.Failure != nil:
		st.Error = out.Failure.Error()
	default:
		_ = out.Close()
		if code := out.Response.StatusCode; code >= 200 && code < 300 {
			st.State = StateConnected
		} else {
			st.Error = "unexpected status " + out.Response.Status
		}
	}
	if out != nil {
		st.Latency = out.Elapsed
		st.LatencyMs = out.Elapsed.Milliseconds()
	}
	return st
}

// Recorder receives probe results, e.g. a metrics gauge.
type Recorder interface {
	SetComponentUp(component string, up bool)
}

// Report is the aggregated result across all checkers.
type Report struct {
	Status     State             `json:"status"`
	Components map[string]Status `json:"components"`
	CheckedAt  time.Time         `json:"checkedAt"`
}

// Aggregator runs every registered checker concurrently.
type Aggregator struct {
	checkers []Checker
	recorder Recorder
	log      logger.Logger
}

func NewAggregator(log logger.Logger, checkers ...Checker) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{checkers: checkers, log: log}
}

// WithRecorder attaches a Recorder notified after every probe.
func (a *Aggregator) WithRecorder(r Recorder) *Aggregator {
	a.recorder = r
	return a
}

// Check probes all components. The overall status is connected only when
// every component is.
func (a *Aggregator) Check(ctx context.Context) Report {
	results := make([]Status, len(a.checkers))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range a.checkers {
		g.Go(func() error {
			results[i] = c.Check(gctx)
			if results[i].Component == "" {
				results[i].Component = c.Name()
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StateConnected,
		Components: make(map[string]Status, len(results)),
		CheckedAt:  time.Now().UTC(),
	}
	for _, st := range results {
		report.Components[st.Component] = st
		if !st.Available() {
			report.Status = StateDisconnected
			a.log.WithContext(ctx).Warn().
				Str("component", st.Component).
				Str("error", st.Error).
				Msg("Component unavailable")
		}
		if a.recorder != nil {
			a.recorder.SetComponentUp(st.Component, st.Available())
		}
	}
	return report
}
