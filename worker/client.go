// Package worker drives the browser-automation worker. Every call returns a
// tool.Result; transport problems never surface as Go errors.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/tool"
)

const ComponentName = "worker"

const (
	DefaultHealthTimeout  = 5 * time.Second
	DefaultActionTimeout  = 60 * time.Second
	DefaultMinTestTimeout = 180 * time.Second
	DefaultPerStep        = 45 * time.Second
	DefaultOverhead       = 60 * time.Second
	DefaultMaxRetries     = 2
)

// Action names a worker endpoint.
type Action string

const (
	ActionAct     Action = "act"
	ActionTest    Action = "test"
	ActionObserve Action = "observe"
	ActionExtract Action = "extract"
	ActionAgent   Action = "agent"
)

// Actions lists every supported action.
var Actions = []Action{ActionAct, ActionTest, ActionObserve, ActionExtract, ActionAgent}

// ParseAction resolves a path segment such as "observe".
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Scaled reports whether the action's timeout grows with the step count.
func (a Action) Scaled() bool {
	return a == ActionTest || a == ActionAgent
}

// Request is the body posted to every worker endpoint.
type Request struct {
	URL         string          `json:"url" validate:"required,http_url"`
	Instruction string          `json:"instruction" validate:"required,max=8000"`
	Steps       int             `json:"steps,omitempty" validate:"gte=0,lte=200"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
}

// Config locates the worker and sets its timing policy. Zero durations select
// the defaults; DefaultConfig also fills the retry budget.
type Config struct {
	WorkerURL      string
	HealthTimeout  time.Duration
	ActionTimeout  time.Duration
	MinTestTimeout time.Duration
	PerStep        time.Duration
	Overhead       time.Duration
	MaxRetries     int
}

// DefaultConfig returns the standard policy for a worker at workerURL.
func DefaultConfig(workerURL string) Config {
	return Config{
		WorkerURL:      workerURL,
		HealthTimeout:  DefaultHealthTimeout,
		ActionTimeout:  DefaultActionTimeout,
		MinTestTimeout: DefaultMinTestTimeout,
		PerStep:        DefaultPerStep,
		Overhead:       DefaultOverhead,
		MaxRetries:     DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.WorkerURL)
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = def.HealthTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.MinTestTimeout <= 0 {
		c.MinTestTimeout = def.MinTestTimeout
	}
	if c.PerStep <= 0 {
		c.PerStep = def.PerStep
	}
	if c.Overhead <= 0 {
		c.Overhead = def.Overhead
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// StepTimeout is the attempt deadline for a multi-step run:
// max(180s, steps*45s + 60s).
func StepTimeout(steps int) time.Duration {
	return DefaultConfig("").StepTimeout(steps)
}

// StepTimeout applies the configured scaling.
func (c Config) StepTimeout(steps int) time.Duration {
	if steps < 0 {
		steps = 0
	}
	return max(c.MinTestTimeout, time.Duration(steps)*c.PerStep+c.Overhead)
}

// Timeout returns the attempt deadline for action with the given step count.
func (c Config) Timeout(action Action, steps int) time.Duration {
	if action.Scaled() {
		return c.StepTimeout(steps)
	}
	return c.ActionTimeout
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	base string
	doer fetch.Doer
	log  logger.Logger
}

var _ health.Checker = (*Client)(nil)

// New validates cfg.WorkerURL and returns a Client issuing calls through doer.
func New(cfg Config, doer fetch.Doer, log logger.Logger) (*Client, error) {
	u, err := url.Parse(cfg.WorkerURL)
	if err != nil {
		return nil, fmt.Errorf("worker url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("worker url: %q is not an absolute http(s) url", cfg.WorkerURL)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:  cfg.withDefaults(),
		base: strings.TrimRight(u.String(), "/"),
		doer: doer,
		log:  log,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) Act(ctx context.Context, req Request) tool.Result {
	return c.Run(ctx, ActionAct, req)
}

// Test runs a multi-step test; the deadline scales with req.Steps.
func (c *Client) Test(ctx context.Context, req Request) tool.Result {
	return c.Run(ctx, ActionTest, req)
}

func (c *Client) Observe(ctx context.Context, req Request) tool.Result {
	return c.Run(ctx, ActionObserve, req)
}

func (c *Client) Extract(ctx context.Context, req Request) tool.Result {
	return c.Run(ctx, ActionExtract, req)
}

// Agent hands a goal to the autonomous agent; the deadline scales with req.Steps.
func (c *Client) Agent(ctx context.Context, req Request) tool.Result {
	return c.Run(ctx, ActionAgent, req)
}

// Run posts req to the endpoint for action.
func (c *Client) Run(ctx context.Context, action Action, req Request) tool.Result {
	if _, ok := ParseAction(string(action)); !ok {
		return tool.Failed("unknown worker action %q", action)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return tool.Failed("encode %s request: %v", action, err)
	}

	timeout := c.cfg.Timeout(action, req.Steps)
	c.log.WithContext(ctx).Debug().
		Str("action", string(action)).
		Int("steps", req.Steps).
		Dur("timeout", timeout).
		Msg("Calling worker")

	out, err := c.doer.Do(ctx, fetch.RequestSpec{
		Endpoint:   "worker." + string(action),
		Method:     http.MethodPost,
		URL:        c.base + "/" + string(action),
		Body:       body,
		Timeout:    timeout,
		MaxRetries: c.cfg.MaxRetries,
	})
	if err != nil {
		return tool.FromError(err)
	}
	return tool.FromOutcome(out, ComponentName)
}

func (c *Client) Name() string { return ComponentName }

// Check implements health.Checker with a single GET /health probe.
func (c *Client) Check(ctx context.Context) health.Status {
	out, err := c.doer.Do(ctx, fetch.RequestSpec{
		Endpoint:   "worker.health",
		Method:     http.MethodGet,
		URL:        c.base + "/health",
		Timeout:    c.cfg.HealthTimeout,
		MaxRetries: 0,
	})
	return health.FromOutcome(ComponentName, out, err)
}
