package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggingSetsRequestID(t *testing.T) {
	handler := Logging(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestLoggingCapturesErrorBodyOnly(t *testing.T) {
	var captured *responseWriter
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = w.(*responseWriter)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"UNAUTHENTICATED","message":"not authenticated"}}`))
	})

	rec := httptest.NewRecorder()
	Logging(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh_token", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, captured.body.String(), "UNAUTHENTICATED")
}

func TestRecoveryAnswers500(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestTimeoutAnswersJSON(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	rec := httptest.NewRecorder()
	Timeout(20*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/students/login", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "REQUEST_TIMEOUT")
}

func TestLoggingSharesRequestIDAndStudent(t *testing.T) {
	var seenID string
	validator := &stubValidator{valid: "good"}
	inner := NewAuthMiddleware(validator).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/students/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set(requestIDHeader, "req-456")
	rec := httptest.NewRecorder()
	Logging(inner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "req-456", seenID)
	require.Contains(t, logs.String(), `"request_id":"req-456"`)
	require.Contains(t, logs.String(), `"control_number":"266P000001"`)
}

func TestLoggingReplacesOversizedRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	rec := httptest.NewRecorder()
	Logging(okHandler()).ServeHTTP(rec, req)

	require.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestRequestIDOutsideLoggingIsEmpty(t *testing.T) {
	require.Empty(t, RequestID(context.Background()))
}
