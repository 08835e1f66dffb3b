package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"student-registry/pkg/apierror"
)

// authPaths get the stricter bucket: everything that checks a password or
// a token, or sends mail.
var authPaths = []string{
	"/api/v1/students/login",
	"/api/v1/students/register",
	"/api/v1/students/password-reset",
	"/api/v1/students/me/sessions/revoke",
	"/refresh_token",
	"/h/activate",
	"/j/recoverpwd",
	"/w/resetpwd",
}

// sharedBucket is a limiter whose state outlives this process, so several
// replicas enforce one budget.
type sharedBucket interface {
	Take(ctx context.Context, key string, perMinute int) (bool, time.Duration, error)
}

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	lastSeen time.Time
}

type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	shared     sharedBucket
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

// NewRateLimitMiddleware limits per client IP. A non-positive generalRPM
// disables the general bucket; authRPM falls back to 10.
func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	if authRPM <= 0 {
		authRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		clients:    map[string]*clientLimiter{},
	}
}

// WithSharedBucket makes the middleware consult bucket first. When the
// bucket errors the in-process limiters decide.
func (m *RateLimitMiddleware) WithSharedBucket(bucket sharedBucket) *RateLimitMiddleware {
	m.shared = bucket
	return m
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, rpm := "general", m.generalRPM
		if isAuthPath(r.URL.Path) {
			scope, rpm = "auth", m.authRPM
		}
		if rpm <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := ClientIP(r)

		if m.shared != nil {
			allowed, retryAfter, err := m.shared.Take(r.Context(), scope+":"+clientIP, rpm)
			if err == nil {
				if !allowed {
					writeRateLimited(w, retryAfter)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			slog.WarnContext(r.Context(), "shared rate limit unavailable", "error", err)
		}

		limiter := m.getLimiter(clientIP)
		target := limiter.general
		if scope == "auth" {
			target = limiter.auth
		}

		if !target.Allow() {
			writeRateLimited(w, time.Minute)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isAuthPath(path string) bool {
	path = strings.ToLower(strings.TrimRight(path, "/"))
	for _, prefix := range authPaths {
		if path == prefix {
			return true
		}
	}
	return false
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeEnvelope(w, apierror.New("RATE_LIMITED", "Too many requests", "", http.StatusTooManyRequests))
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = time.Now()
		m.gcLocked()
		return limiter
	}

	created := &clientLimiter{
		general:  newLimiter(m.generalRPM),
		auth:     newLimiter(m.authRPM),
		lastSeen: time.Now(),
	}
	m.clients[clientIP] = created
	m.gcLocked()

	return created
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}
