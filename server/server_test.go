package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gaborage/e2e-gateway/fetch"
	"github.com/gaborage/e2e-gateway/health"
	"github.com/gaborage/e2e-gateway/internal/testutil"
	"github.com/gaborage/e2e-gateway/observability"
	"github.com/gaborage/e2e-gateway/orchestrator"
	"github.com/gaborage/e2e-gateway/tool"
	"github.com/gaborage/e2e-gateway/trace"
	"github.com/gaborage/e2e-gateway/worker"
)

type fakeChat struct {
	mu   sync.Mutex
	reqs []*orchestrator.ChatRequest
	out  *fetch.Outcome
	err  error
}

func (f *fakeChat) StreamChat(_ context.Context, req *orchestrator.ChatRequest) (*fetch.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ThreadID == "" {
		req.ThreadID = "generated-thread"
	}
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

type browserCall struct {
	action  worker.Action
	req     worker.Request
	traceID string
}

type fakeBrowser struct {
	mu     sync.Mutex
	calls  []browserCall
	result tool.Result
	panics bool
}

func (f *fakeBrowser) Run(ctx context.Context, action worker.Action, req worker.Request) tool.Result {
	if f.panics {
		panic("worker exploded")
	}
	id, _ := trace.IDFromContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, browserCall{action: action, req: req, traceID: id})
	return f.result
}

type fakeHealth struct{ report health.Report }

func (f fakeHealth) Check(context.Context) health.Report { return f.report }

type testEnv struct {
	server  *Server
	chat    *fakeChat
	browser *fakeBrowser
	metrics *observability.Metrics
	spans   *tracetest.SpanRecorder
	logs    *testutil.LogBuffer
}

func newTestEnv(t *testing.T, yaml string) *testEnv {
	t.Helper()
	cfg := testutil.Config(t, yaml)
	log, logs := testutil.NewLogger()

	env := &testEnv{
		chat:    &fakeChat{},
		browser: &fakeBrowser{result: tool.Result{Success: true, Data: json.RawMessage(`{"clicked":true}`)}},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		spans:   tracetest.NewSpanRecorder(),
		logs:    logs,
	}
	env.server = New(cfg, log, Deps{
		Chat:    env.chat,
		Browser: env.browser,
		Health: fakeHealth{report: health.Report{
			Status: health.StateDisconnected,
			Components: map[string]health.Status{
				"backend": {Component: "backend", State: health.StateConnected},
				"worker":  {Component: "worker", State: health.StateDisconnected, Error: "refused"},
			},
		}},
		Metrics:        env.metrics,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(env.spans)),
	})
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPIHealthReportsComponents(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "disconnected", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "connected", components["backend"].(map[string]any)["status"])
	assert.Equal(t, "refused", components["worker"].(map[string]any)["error"])
}

func TestBrowserActionSuccess(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodPost, "/api/browser/test",
		`{"url":"https://shop.example.com","instruction":"buy a hat","steps":4}`,
		"X-Request-ID", "req-abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"clicked":true}}`, rec.Body.String())

	require.Len(t, env.browser.calls, 1)
	call := env.browser.calls[0]
	assert.Equal(t, worker.ActionTest, call.action)
	assert.Equal(t, 4, call.req.Steps)
	assert.Equal(t, "req-abc", call.traceID)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestBrowserActionFailureStatus(t *testing.T) {
	env := newTestEnv(t, "")
	env.browser.result = tool.Result{
		Success: false,
		Error:   "Request timed out after 3m0s",
		ErrorDetails: &tool.ErrorDetails{
			Category:        tool.CategoryTimeout,
			IsRetryable:     true,
			SuggestedAction: "Reduce the workload",
		},
	}

	rec := env.do(http.MethodPost, "/api/browser/agent", `{"url":"https://a.example","instruction":"explore"}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "timeout", body["errorDetails"].(map[string]any)["category"])
}

func TestBrowserUnknownAction(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodPost, "/api/browser/navigate", `{"url":"https://a.example","instruction":"x"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], `unknown browser action "navigate"`)
	assert.Empty(t, env.browser.calls)
}

func TestBrowserValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing url", body: `{"instruction":"click"}`, field: "url"},
		{name: "non http url", body: `{"url":"file:///etc/passwd","instruction":"click"}`, field: "url"},
		{name: "missing instruction", body: `{"url":"https://a.example"}`, field: "instruction"},
		{name: "negative steps", body: `{"url":"https://a.example","instruction":"x","steps":-1}`, field: "steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.do(http.MethodPost, "/api/browser/act", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			fields := body["validationErrors"].([]any)
			require.Len(t, fields, 1)
			assert.Equal(t, tt.field, fields[0].(map[string]any)["field"])
			assert.Empty(t, env.browser.calls)
		})
	}
}

func TestBrowserMalformedJSON(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodPost, "/api/browser/act", `{"url":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid request body")
}

func TestBrowserPanicRecovered(t *testing.T) {
	env := newTestEnv(t, "")
	env.browser.panics = true

	rec := env.do(http.MethodPost, "/api/browser/act", `{"url":"https://a.example","instruction":"x"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body["error"].(map[string]any)["code"])
	assert.Contains(t, env.logs.String(), "Panic recovered")
}

func TestChatStreamsUpstreamBody(t *testing.T) {
	env := newTestEnv(t, "")
	env.chat.out = &fetch.Outcome{Response: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader("data: one\n\ndata: two\n\n")),
	}}

	rec := env.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"test checkout"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: one\n\ndata: two\n\n", rec.Body.String())
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "generated-thread", rec.Header().Get(HeaderXThreadID))
	assert.True(t, rec.Flushed)

	require.Len(t, env.chat.reqs, 1)
	assert.Equal(t, "test checkout", env.chat.reqs[0].Messages[0].Content)
}

func TestChatUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.chat.out = &fetch.Outcome{Failure: &fetch.Failure{
		Kind:     fetch.FailureNetwork,
		Attempts: make([]fetch.Attempt, 3),
	}}

	rec := env.do(http.MethodPost, "/api/chat", `{"threadId":"t-1","messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	details := body["errorDetails"].(map[string]any)
	assert.Equal(t, "network", details["category"])
	assert.Equal(t, true, details["isRetryable"])
	assert.Contains(t, details["suggestedAction"], "backend")
	assert.Equal(t, "t-1", env.chat.reqs[0].ThreadID)
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "no messages", body: `{"messages":[]}`, field: "messages"},
		{name: "bad role", body: `{"messages":[{"role":"robot","content":"x"}]}`, field: "messages[0].role"},
		{name: "empty content", body: `{"messages":[{"role":"user","content":""}]}`, field: "messages[0].content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.do(http.MethodPost, "/api/chat", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			fields := decode(t, rec)["validationErrors"].([]any)
			assert.Equal(t, tt.field, fields[0].(map[string]any)["field"])
			assert.Empty(t, env.chat.reqs)
		})
	}
}

func TestChatStreamsThroughRealBackend(t *testing.T) {
	second := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-second:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, "data: second\n\n")
	}))
	defer backend.Close()

	cfg := testutil.Config(t, "")
	chat, err := orchestrator.New(orchestrator.DefaultConfig(backend.URL), fetch.New(nil), nil)
	require.NoError(t, err)
	s := New(cfg, nil, Deps{Chat: chat, Browser: &fakeBrowser{}, Health: fakeHealth{}})

	gw := httptest.NewServer(s.Echo())
	defer gw.Close()

	resp, err := http.Post(gw.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderXThreadID))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: first\n", line, "first event arrives while the backend is still streaming")

	close(second)
	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "\ndata: second\n\n", string(rest))
}

func TestUnknownRouteEnvelope(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/api/nope", "", "X-Request-ID", "trace-1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
	assert.Equal(t, "trace-1", body["meta"].(map[string]any)["traceId"])
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, "server:\n  ratelimit: 1\n")

	codes := make([]int, 0, 4)
	for range 4 {
		codes = append(codes, env.do(http.MethodGet, "/health", "").Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, "TOO_MANY_REQUESTS", decode(t, rec)["error"].(map[string]any)["code"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "server:\n  cors: https://app.example.com, https://admin.example.com\n")
	rec := env.do(http.MethodOptions, "/api/chat", "",
		"Origin", "https://admin.example.com",
		"Access-Control-Request-Method", "POST")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodOptions, "/api/chat", "",
		"Origin", "https://evil.example.com",
		"Access-Control-Request-Method", "POST")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(http.MethodPost, "/api/browser/act", `{"url":"https://a.example","instruction":"x"}`)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gateway_http_requests_total{method="POST",route="/api/browser/:action",status="200"} 1`)
	assert.NotContains(t, rec.Body.String(), `route="/metrics"`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	env := newTestEnv(t, "observability:\n  metrics:\n    enabled: false\n")
	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerSpans(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(http.MethodPost, "/api/browser/observe", `{"url":"https://a.example","instruction":"x"}`)

	spans := env.spans.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name(), "/api/browser/:action")
}

func TestRequestLogging(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(http.MethodPost, "/api/browser/act", `{"instruction":"x"}`, "X-Request-ID", "req-log")

	var found map[string]any
	for _, e := range env.logs.Entries(t) {
		if e["http.route"] == "/api/browser/:action" {
			found = e
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "warn", found["level"])
	assert.Equal(t, float64(400), found["http.response.status_code"])
	assert.Equal(t, "req-log", found["trace_id"])
	assert.Equal(t, "WARN", found["result_code"])
}

func TestRunGracefulShutdown(t *testing.T) {
	cfg := testutil.Config(t, "")
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = testutil.FreePort(t)
	cfg.Server.Timeout.Shutdown = time.Second
	s := New(cfg, nil, Deps{Chat: &fakeChat{}, Browser: &fakeBrowser{}, Health: fakeHealth{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
