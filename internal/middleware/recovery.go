package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"student-registry/pkg/apierror"
)

// Recovery turns a panic into the 500 envelope. The stack goes to the log
// only.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			slog.ErrorContext(r.Context(), "panic recovered",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"error", fmt.Sprintf("%v", recovered),
				"stack", string(debug.Stack()),
			)
			writeEnvelope(w, apierror.New("INTERNAL_ERROR", "Unexpected server error", "", http.StatusInternalServerError))
		}()

		next.ServeHTTP(w, r)
	})
}
