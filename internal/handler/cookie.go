package handler

import (
	"net/http"
	"time"
)

type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

// refreshCookie hands a freshly issued refresh token to the browser as an
// HTTP-only cookie scoped to the refresh endpoint.
type refreshCookie struct {
	w   http.ResponseWriter
	cfg CookieConfig
}

func (c refreshCookie) DeliverRefreshToken(token string, expiresAt time.Time) {
	http.SetCookie(c.w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    token,
		Path:     c.cfg.Path,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c refreshCookie) clear() {
	http.SetCookie(c.w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     c.cfg.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
