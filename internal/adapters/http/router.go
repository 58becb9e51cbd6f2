package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ReadyCheck reports whether a downstream dependency is reachable.
type ReadyCheck func() error

// NewRouter wires the middleware stack and the /api/auth surface.
func NewRouter(h *Handler, logger *slog.Logger, allowedOrigins []string, ready ReadyCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeMessage(w, http.StatusServiceUnavailable, false, "dependencies unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/google-login", h.GoogleLogin)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/verify-phone", h.VerifyPhone)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/2fa/verify", h.TwoFactorVerify)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/2fa/setup", h.TwoFactorSetup)
			r.Post("/2fa/enable", h.TwoFactorEnable)
			r.Post("/2fa/disable", h.TwoFactorDisable)
			r.Get("/2fa/status/{email}", h.TwoFactorStatus)
		})
	})
	return r
}
