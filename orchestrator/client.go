// Package orchestrator talks to the LLM orchestration backend: a health
// endpoint and a streaming chat endpoint.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/logger"
)

const (
	ComponentName = "backend"

	PathHealth     = "/health"
	PathChatStream = "/api/v1/chat/stream"

	DefaultHealthTimeout = 5 * time.Second
	DefaultChatTimeout   = 300 * time.Second
	DefaultMaxRetries    = 2
)

// Config locates the backend. Zero durations select the defaults; use
// DefaultConfig to also get the default retry budget.
type Config struct {
	BackendURL    string
	HealthTimeout time.Duration
	ChatTimeout   time.Duration
	// MaxRetries applies to chat calls; health probes never retry.
	MaxRetries int
}

// DefaultConfig returns the standard policy for a backend at backendURL.
func DefaultConfig(backendURL string) Config {
	return Config{
		BackendURL:    backendURL,
		HealthTimeout: DefaultHealthTimeout,
		ChatTimeout:   DefaultChatTimeout,
		MaxRetries:    DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = DefaultChatTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system tool"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body sent to the streaming chat endpoint.
type ChatRequest struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
}

// Client is safe for concurrent use.
type Client struct {
	cfg   Config
	base  string
	doer  fetch.Doer
	log   logger.Logger
	newID func() string
}

var _ health.Checker = (*Client)(nil)

// New validates cfg.BackendURL and returns a Client issuing calls through doer.
func New(cfg Config, doer fetch.Doer, log logger.Logger) (*Client, error) {
	base, err := normalizeBase(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:   cfg.withDefaults(),
		base:  base,
		doer:  doer,
		log:   log,
		newID: func() string { return uuid.New().String() },
	}, nil
}

func normalizeBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *Client) Name() string { return ComponentName }

// Check implements health.Checker.
func (c *Client) Check(ctx context.Context) health.Status {
	return c.Health(ctx)
}

// Health probes GET /health once. Any 2xx means available.
func (c *Client) Health(ctx context.Context) health.Status {
	out, err := c.doer.Do(ctx, fetch.RequestSpec{
		Endpoint:   "backend.health",
		Method:     http.MethodGet,
		URL:        c.base + PathHealth,
		Timeout:    c.cfg.HealthTimeout,
		MaxRetries: 0,
	})
	return health.FromOutcome(ComponentName, out, err)
}

// StreamChat opens the backend's event stream. On success the caller owns
// out.Response.Body and must close it. A missing thread id is generated and
// written back to req.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest) (*fetch.Outcome, error) {
	if req.ThreadID == "" {
		req.ThreadID = c.newID()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	c.log.WithContext(ctx).Debug().
		Str("thread_id", req.ThreadID).
		Int("messages", len(req.Messages)).
		Msg("Opening chat stream")

	return c.doer.Do(ctx, fetch.RequestSpec{
		Endpoint:   "backend.chat",
		Method:     http.MethodPost,
		URL:        c.base + PathChatStream,
		Headers:    map[string]string{"Accept": "text/event-stream"},
		Body:       body,
		Timeout:    c.cfg.ChatTimeout,
		MaxRetries: c.cfg.MaxRetries,
		Stream:     true,
	})
}
