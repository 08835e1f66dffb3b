package handler

import (
	"context"
	"net/http"

	"student-registry/internal/middleware"
	"student-registry/internal/service"
)

// auditContext stamps the request context with the caller address the audit
// trail records.
func auditContext(r *http.Request) context.Context {
	return service.WithClientIP(r.Context(), middleware.ClientIP(r))
}

func currentStudent(r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}
