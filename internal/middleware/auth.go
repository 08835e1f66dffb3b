package middleware

import (
	"context"
	"net/http"
	"strings"

	"student-registry/internal/model"
	"student-registry/pkg/apierror"
)

type tokenValidator interface {
	ValidateAccessToken(tokenString string) (*model.AuthClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth accepts only "Authorization: Bearer <access token>". Every
// failure gets the same answer.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeUnauthenticated(w)
			return
		}

		claims, err := m.validator.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			writeUnauthenticated(w)
			return
		}

		noteStudent(r.Context(), claims.UserID)
		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok && claims != nil
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeEnvelope(w, apierror.Unauthenticated("not authenticated"))
}
