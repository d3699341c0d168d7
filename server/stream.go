package server

import (
	"context"
	goerrors "errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const streamChunkSize = 4 << 10

// streamResponse copies an upstream event stream to the client, flushing after
// every read so events are not held back by buffering.
func streamResponse(c echo.Context, upstream *http.Response) error {
	w := c.Response()
	contentType := upstream.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set(echo.HeaderContentType, contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	buf := make([]byte, streamChunkSize)
	for {
		n, err := upstream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			w.Flush()
		}
		if err == nil {
			continue
		}
		if goerrors.Is(err, io.EOF) || goerrors.Is(err, context.Canceled) {
			return nil
		}
		// headers are sent; the error handler only logs from here on
		return err
	}
}
