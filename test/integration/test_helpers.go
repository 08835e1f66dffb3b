//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"student-registry/internal/config"
	"student-registry/internal/credential"
	"student-registry/internal/handler"
	"student-registry/internal/mail"
	"student-registry/internal/middleware"
	"student-registry/internal/router"
	"student-registry/internal/service"
	"student-registry/internal/token"
)

type store interface {
	service.StudentStore
	service.AuthEventStore
	Ping(ctx context.Context) error
}

type inbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (i *inbox) Send(_ context.Context, msg mail.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, msg)
	return nil
}

// link returns the token of the newest mailed link built from template.
func (i *inbox) link(t *testing.T, template string) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()

	for n := len(i.sent) - 1; n >= 0; n-- {
		if i.sent[n].Template == template {
			parsed, err := url.Parse(i.sent[n].Data["url"])
			require.NoError(t, err)
			return parsed.Query().Get("token")
		}
	}
	t.Fatalf("no %q mail", template)
	return ""
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:                 "0",
		RequestTimeout:             5 * time.Second,
		StoreDriver:                config.StoreDriverMemory,
		AccessTokenSecret:          "it-access",
		RefreshTokenSecret:         "it-refresh",
		ResetPasswordTokenSecret:   "it-reset",
		ActivateAccountTokenSecret: "it-activate",
		AccessTokenTTL:             7 * time.Minute,
		RefreshTokenTTL:            24 * time.Hour,
		ResetPasswordTokenTTL:      time.Hour,
		ActivateAccountTokenTTL:    time.Hour,
		RefreshCookieName:          "jid",
		RefreshCookiePath:          "/refresh_token",
		CORSOrigins:                []string{"http://localhost:3000"},
		RateLimitRPM:               1000,
		AuthRateLimitRPM:           1000,
		MailTransport:              config.MailTransportLog,
		PublicURL:                  "http://localhost:4000",
		Argon2MemoryKiB:            1024,
		Argon2Iterations:           1,
		Argon2Parallelism:          1,
	}
}

type testServer struct {
	*httptest.Server
	client *http.Client
	mail   *inbox
}

func newTestServer(t *testing.T, cfg *config.Config, s store) *testServer {
	t.Helper()

	codec, err := token.NewCodec(cfg.Signing())
	require.NoError(t, err)
	hasher := credential.NewHasher(cfg.Argon2())

	audit := service.NewAuditService(s)
	sessions := service.NewSessionManager(s, codec, hasher, audit, service.SessionConfig{
		AccessTTL:        cfg.AccessTokenTTL,
		RefreshTTL:       cfg.RefreshTokenTTL,
		ResetPasswordTTL: cfg.ResetPasswordTokenTTL,
	})
	box := &inbox{}
	students := service.NewStudentService(s, sessions, codec, hasher, box,
		mail.Composer{Sender: "noreply@example.com", PublicURL: cfg.PublicURL},
		audit, service.StudentConfig{ActivateAccountTTL: cfg.ActivateAccountTokenTTL})

	h := router.New(cfg, middleware.NewAuthMiddleware(sessions), nil, router.Handlers{
		Auth: handler.NewAuthHandler(sessions, students, handler.CookieConfig{
			Name: cfg.RefreshCookieName,
			Path: cfg.RefreshCookiePath,
		}),
		Student: handler.NewStudentHandler(students, audit),
		Health:  handler.NewHealthHandler(s),
	})

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testServer{Server: server, client: &http.Client{Jar: jar}, mail: box}
}

func (s *testServer) postJSON(t *testing.T, path string, body any, accessToken string) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) get(t *testing.T, path string, accessToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type loginData struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type refreshBody struct {
	OK          bool   `json:"ok"`
	AccessToken string `json:"accessToken"`
}

type flowBody struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func registration(email string, curp string) map[string]any {
	return map[string]any{
		"curp":           curp,
		"email":          email,
		"password":       "Secret-123",
		"names":          "Ana",
		"lastname":       "López",
		"secondLastname": "Ruiz",
		"career":         "Sistemas",
		"birthday":       "2000-01-01",
	}
}

func newHTTPTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server
}
