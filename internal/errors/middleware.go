package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	// maxCapturedBody bounds how much of a request body is kept for the
	// failure log. Activation requests are a few hundred bytes.
	maxCapturedBody = 16 << 10
	// maxLoggedBody bounds the logged, redacted body.
	maxLoggedBody = 500
)

// redactedFields never reach the logs: tokens embed the device id in
// clear text.
var redactedFields = []string{"token", "device_id", "passphrase", "password", "secret"}

// ErrorMiddleware writes one log line per API request and turns panics
// into problem documents. Bodies of failed JSON requests are logged
// with redactedFields replaced.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware logs through logger and renders panics with handler.
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

// Handler is the chi middleware.
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		body := captureJSONBody(r)
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				m.handler.HandlePanic(ww, r, p)
			}
			m.logRequest(r, ww, time.Since(start), body)
		}()

		next.ServeHTTP(ww, r)
	})
}

// captureJSONBody copies a small JSON body and restores it for the next
// handler. Anything else is left unread.
func captureJSONBody(r *http.Request) []byte {
	if r.Body == nil || r.ContentLength <= 0 || r.ContentLength > maxCapturedBody {
		return nil
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func (m *ErrorMiddleware) logRequest(r *http.Request, ww middleware.WrapResponseWriter, elapsed time.Duration, body []byte) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.Int("bytes", ww.BytesWritten()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, slog.String("query", r.URL.RawQuery))
	}
	if status >= http.StatusBadRequest && len(body) > 0 {
		logged := sanitizeRequestBody(body)
		if len(logged) > maxLoggedBody {
			logged = logged[:maxLoggedBody] + "..."
		}
		attrs = append(attrs, slog.String("request_body", logged))
	}

	m.logger.LogAttrs(r.Context(), level, "http request", attrs...)
}

// sanitizeRequestBody replaces redactedFields in a JSON object. Bodies
// that are not an object are not logged at all.
func sanitizeRequestBody(body []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[unparsable body omitted]"
	}
	for _, field := range redactedFields {
		if _, ok := data[field]; ok {
			data[field] = "[REDACTED]"
		}
	}
	sanitized, err := json.Marshal(data)
	if err != nil {
		return "[unparsable body omitted]"
	}
	return string(sanitized)
}
