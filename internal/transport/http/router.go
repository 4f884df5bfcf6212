package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-verify-handoff/internal/config"
	jwtinfra "github.com/go-verify-handoff/internal/infrastructure/jwt"
	"github.com/go-verify-handoff/internal/transport/http/handler"
	appmiddleware "github.com/go-verify-handoff/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Browser-facing endpoints share one budget; the provider's callbacks get a larger one.
	publicRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	callbackRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.CallbackRateLimitRPS), cfg.CallbackRateLimitBurst)

	healthH := handler.NewHealthHandler(deps.Checks)
	verifyH := handler.NewVerificationHandler(deps.Verifications, deps.AuditLog)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.With(publicRL.Limit).Post("/verifications", verifyH.Start)
		r.With(callbackRL.Limit).Post("/verifications/callback", verifyH.Callback)
		r.Get("/verifications/status", verifyH.Status)
		if !cfg.IsProduction() {
			r.Get("/verifications/logs", verifyH.Logs)
		}

		// ── Sessions (only with signing keys) ────────────────────────────────
		if deps.Sessions != nil && deps.JWTProvider != nil {
			sessionH := handler.NewSessionHandler(deps.Sessions)
			r.With(publicRL.Limit).Post("/sessions/verification", sessionH.Exchange)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.JWTProvider))
				r.Use(appmiddleware.RequireRole(jwtinfra.RoleCustomer))
				r.Get("/sessions/me", sessionH.Me)
			})
		}
	})

	return r
}
