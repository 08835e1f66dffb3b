package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"student-registry/internal/config"
	"student-registry/internal/handler"
	"student-registry/internal/middleware"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Student *handler.StudentHandler
	Health  *handler.HealthHandler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	rateLimit *middleware.RateLimitMiddleware,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()
	if rateLimit == nil {
		rateLimit = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	}

	r.Use(middleware.ClientAddress(cfg.TrustedProxies))
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimit.Handler)

	r.Get("/", h.Health.Root)
	r.Get("/health", h.Health.Health)

	// Paths the browser and the mailed links already know.
	r.Group(func(links chi.Router) {
		links.Use(middleware.Timeout(cfg.RequestTimeout))
		links.Post("/refresh_token", h.Auth.Refresh)
		links.Post("/h/activate", h.Auth.Activate)
		links.Post("/j/recoverpwd", h.Auth.CheckResetToken)
		links.Post("/w/resetpwd", h.Auth.ResetPassword)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/students", func(students chi.Router) {
			students.Post("/register", h.Auth.Register)
			students.Post("/login", h.Auth.Login)
			students.Post("/password-reset", h.Auth.RequestPasswordReset)
			students.Post("/logout", h.Auth.Logout)

			students.Group(func(private chi.Router) {
				private.Use(authMiddleware.RequireAuth)
				private.Get("/", h.Student.List)
				private.Get("/me", h.Student.Me)
				private.Get("/me/events", h.Student.Events)
				private.Post("/me/sessions/revoke", h.Auth.RevokeSessions)
			})
		})
	})

	return r
}
