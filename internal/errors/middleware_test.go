package errors

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notiflogger/internal/shared/testutil"
)

func TestErrorMiddleware_LogsRequests(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"ok": "no"})
	}))

	body := `{"token":"eyJkZXZpY2VfaWQiOiJEMSJ9","device_id":"D1-secret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/activation/activate?x=1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	records := logs.FindByAttr("component", "error_middleware")
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelWarn, records[0].Level)
	assert.Equal(t, int64(http.StatusForbidden), records[0].Attr("status"))
	assert.Equal(t, "x=1", records[0].Attr("query"))
	assert.False(t, logs.ContainsText("eyJkZXZpY2VfaWQiOiJEMSJ9"))
	assert.False(t, logs.ContainsText("D1-secret"))
	assert.Equal(t, `{"device_id":"[REDACTED]","token":"[REDACTED]"}`, records[0].Attr("request_body"))
}

func TestErrorMiddleware_SkipsNonJSONBodies(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	var seen string
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/activation/activate", strings.NewReader("token=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "token=abc", seen)
	records := logs.FindByAttr("component", "error_middleware")
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Attr("request_body"))
}

func TestErrorMiddleware_RecoversPanics(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	h := mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activation/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, logs.ContainsMessage("panic recovered"))
	assert.Len(t, logs.GetRecordsByLevel(slog.LevelError), 2)
}

func TestSanitizeRequestBody(t *testing.T) {
	assert.Equal(t, `{"device_id":"[REDACTED]","name":"x","token":"[REDACTED]"}`,
		sanitizeRequestBody([]byte(`{"token":"abc","device_id":"D1","name":"x"}`)))
	assert.Equal(t, "[unparsable body omitted]", sanitizeRequestBody([]byte(`["token"]`)))
}
