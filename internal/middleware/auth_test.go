package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"student-registry/internal/model"
)

type stubValidator struct {
	valid string
	seen  string
}

func (v *stubValidator) ValidateAccessToken(token string) (*model.AuthClaims, error) {
	v.seen = token
	if token != v.valid {
		return nil, errors.New("bad token")
	}
	return &model.AuthClaims{UserID: "266P000001", Email: "ana@example.com"}, nil
}

func TestRequireAuth(t *testing.T) {
	validator := &stubValidator{valid: "good"}
	var seen *model.AuthClaims
	handler := NewAuthMiddleware(validator).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = claims
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]struct {
		header string
		status int
	}{
		"valid":          {"Bearer good", http.StatusNoContent},
		"lowercase":      {"bearer good", http.StatusNoContent},
		"missing":        {"", http.StatusUnauthorized},
		"wrong scheme":   {"Basic good", http.StatusUnauthorized},
		"empty token":    {"Bearer ", http.StatusUnauthorized},
		"rejected token": {"Bearer bad", http.StatusUnauthorized},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/students/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				require.Nil(t, seen)
				require.JSONEq(t, `{"success":false,"error":{"code":"UNAUTHENTICATED","message":"not authenticated"}}`, rec.Body.String())
				return
			}
			require.Equal(t, "266P000001", seen.UserID)
		})
	}
}

func TestClaimsFromContextWithoutClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClaimsFromContext(req.Context())
	require.False(t, ok)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
