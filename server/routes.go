package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/e2e-gateway/orchestrator"
	"github.com/gaborage/e2e-gateway/tool"
	"github.com/gaborage/e2e-gateway/worker"
)

const livenessPath = "/health"

// chatRequest is the body the UI posts to /api/chat.
type chatRequest struct {
	ThreadID string                 `json:"threadId" validate:"omitempty,max=128"`
	Messages []orchestrator.Message `json:"messages" validate:"required,min=1,dive"`
}

func (s *Server) registerRoutes() {
	s.echo.GET(livenessPath, s.liveness)

	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/chat", s.handleChat)
	api.POST("/browser/:action", s.handleBrowser)

	if s.deps.Metrics != nil && s.cfg.Observability.Metrics.Enabled {
		s.echo.GET(s.cfg.Observability.Metrics.Path, echo.WrapHandler(s.deps.Metrics.Handler()))
	}
}

func (s *Server) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth always answers 200; the body carries the state of each upstream.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Health.Check(c.Request().Context()))
}

// handleChat proxies the backend event stream to the caller as it arrives.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	upstream := &orchestrator.ChatRequest{ThreadID: req.ThreadID, Messages: req.Messages}
	out, err := s.deps.Chat.StreamChat(c.Request().Context(), upstream)
	if err != nil {
		return respond(c, tool.FromError(err))
	}
	if !out.OK() {
		return respond(c, tool.FromOutcome(out, orchestrator.ComponentName))
	}
	defer out.Close()

	c.Response().Header().Set(HeaderXThreadID, upstream.ThreadID)
	return streamResponse(c, out.Response)
}

func (s *Server) handleBrowser(c echo.Context) error {
	action, ok := worker.ParseAction(c.Param("action"))
	if !ok {
		return c.JSON(http.StatusNotFound, tool.Failed("unknown browser action %q", c.Param("action")))
	}

	var req worker.Request
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	return respond(c, s.deps.Browser.Run(c.Request().Context(), action, req))
}
