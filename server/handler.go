package server

import (
	goerrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gaborage/e2e-gateway/logger"
	"github.com/gaborage/e2e-gateway/tool"
)

// APIResponse is the envelope for errors raised outside the proxy routes
// (unknown routes, rate limiting, panics).
type APIResponse struct {
	Data  any               `json:"data,omitempty"`
	Error *APIErrorResponse `json:"error,omitempty"`
	Meta  map[string]any    `json:"meta"`
}

// APIErrorResponse represents the error portion of an API response.
type APIErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func formatErrorResponse(c echo.Context, apiErr IAPIError) error {
	resp := APIResponse{
		Error: &APIErrorResponse{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.Message(),
			Details: apiErr.Details(),
		},
		Meta: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"traceId":   getTraceID(c),
		},
	}
	return c.JSON(apiErr.HTTPStatus(), resp)
}

// newErrorHandler maps errors returned by handlers and middleware onto the envelope.
func newErrorHandler(log logger.Logger, debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			// a stream already started; the status line is gone
			log.WithContext(c.Request().Context()).Warn().Err(err).Msg("Error after response was committed")
			return
		}

		var apiErr IAPIError
		if goerrors.As(err, &apiErr) {
			_ = formatErrorResponse(c, apiErr)
			return
		}

		status := http.StatusInternalServerError
		msg := "Internal server error"
		var he *echo.HTTPError
		if goerrors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			}
		}

		if status >= http.StatusInternalServerError {
			log.WithContext(c.Request().Context()).Error().Err(err).Msg("Unhandled error")
			if !debug {
				msg = "An error occurred while processing your request"
			}
		}

		base := NewBaseAPIError(statusToErrorCode(status), msg, status)
		if debug {
			_ = base.WithDetails("error", err.Error())
		}
		_ = formatErrorResponse(c, base)
	}
}

// respond writes a tool.Result with the status it maps to.
func respond(c echo.Context, r tool.Result) error {
	return c.JSON(r.HTTPStatus(), r)
}

// bindAndValidate decodes the JSON body into dst and validates it. Failures
// are answered with a 400 tool.Result, reported through ok=false.
func bindAndValidate(c echo.Context, dst any) (ok bool, err error) {
	if err := c.Bind(dst); err != nil {
		return false, respond(c, tool.Failed("invalid request body: %s", bindMessage(err)))
	}
	if err := c.Validate(dst); err != nil {
		var ve *ValidationError
		if goerrors.As(err, &ve) {
			return false, c.JSON(http.StatusBadRequest, validationResult{
				Result: tool.Failed("%s", ve.Error()),
				Fields: ve.Errors,
			})
		}
		return false, respond(c, tool.Failed("%s", err.Error()))
	}
	return true, nil
}

type validationResult struct {
	tool.Result
	Fields []FieldError `json:"validationErrors"`
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if goerrors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			return m
		}
	}
	return err.Error()
}

// getTraceID resolves the request id: inbound header, then the id set by the
// RequestID middleware, then a fresh one.
func getTraceID(c echo.Context) string {
	if requestID := c.Request().Header.Get(echo.HeaderXRequestID); requestID != "" {
		return requestID
	}
	if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
		return requestID
	}
	newID := uuid.New().String()
	c.Response().Header().Set(echo.HeaderXRequestID, newID)
	return newID
}
