package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 64
	traceContextKey    = contextKey("request_trace")
)

// requestTrace is shared down the chain so inner middleware can add to the
// access log line. Handlers behind Timeout run on their own goroutine.
type requestTrace struct {
	id string

	mu            sync.Mutex
	controlNumber string
}

func (t *requestTrace) student() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.controlNumber
}

// RequestID returns the id Logging assigned to the request, or "".
func RequestID(ctx context.Context) string {
	if trace, ok := ctx.Value(traceContextKey).(*requestTrace); ok {
		return trace.id
	}
	return ""
}

func noteStudent(ctx context.Context, controlNumber string) {
	if trace, ok := ctx.Value(traceContextKey).(*requestTrace); ok {
		trace.mu.Lock()
		trace.controlNumber = controlNumber
		trace.mu.Unlock()
	}
}

// errorBody is a minimal struct used to extract error details from JSON responses.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		trace := &requestTrace{id: requestID}
		r = r.WithContext(context.WithValue(r.Context(), traceContextKey, trace))

		started := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(started).Milliseconds()

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", routePattern(r),
			"status", wrapped.status,
			"duration_ms", duration,
			"client_ip", ClientIP(r),
		}

		// Query strings are never logged; token links carry secrets there.
		if wrapped.status >= 400 && wrapped.body.Len() > 0 {
			var parsed errorBody
			if err := json.Unmarshal(wrapped.body.Bytes(), &parsed); err == nil && parsed.Error != nil {
				attrs = append(attrs, "error_code", parsed.Error.Code)
				attrs = append(attrs, "error_message", parsed.Error.Message)
				if parsed.Error.Details != "" {
					attrs = append(attrs, "error_details", parsed.Error.Details)
				}
			}
		}

		if student := trace.student(); student != "" {
			attrs = append(attrs, "control_number", student)
		}

		switch {
		case wrapped.status >= 500:
			slog.ErrorContext(r.Context(), "request", attrs...)
		case wrapped.status >= 400:
			slog.WarnContext(r.Context(), "request", attrs...)
		default:
			slog.InfoContext(r.Context(), "request", attrs...)
		}
	})
}

// routePattern is the matched chi pattern, "" outside a chi router.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	// Capture the body only for error responses so we can log error details.
	if rw.status >= 400 {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}
