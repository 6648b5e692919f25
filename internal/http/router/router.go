package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bugrelay/auth-service/internal/http/handler"
	"github.com/bugrelay/auth-service/internal/http/middleware"
	"github.com/bugrelay/auth-service/internal/http/response"
	"github.com/bugrelay/auth-service/internal/service"
)

// ReadinessFunc reports whether the service's backing stores answer.
type ReadinessFunc func(r *http.Request) error

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	OAuthHandler     *handler.OAuthHandler
	SessionHandler   *handler.SessionHandler
	Tokens           *service.TokenService
	Logger           *slog.Logger
	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	Readiness        ReadinessFunc
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if dep.Logger != nil {
		r.Use(middleware.RequestLogger(dep.Logger))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	requireAuth := middleware.AuthMiddleware(dep.Tokens)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness != nil {
			if err := dep.Readiness(r); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]string{"error": err.Error()})
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/mfa/verify", dep.AuthHandler.VerifyMFA)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authLimiter).Post("/password-reset", dep.AuthHandler.RequestPasswordReset)
			r.With(authLimiter).Post("/password-reset/confirm", dep.AuthHandler.ConfirmPasswordReset)
			r.With(authLimiter).Get("/verify-email", dep.AuthHandler.VerifyEmail)
			r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
			r.With(requireAuth).Post("/logout-all", dep.AuthHandler.LogoutAll)
			r.Route("/oauth", func(r chi.Router) {
				r.With(requireAuth).Post("/link/{provider}", dep.OAuthHandler.Link)
				r.Route("/{provider}", func(r chi.Router) {
					r.With(authLimiter).Get("/", dep.OAuthHandler.Begin)
					r.With(authLimiter).Get("/callback", dep.OAuthHandler.Callback)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me/sessions", dep.SessionHandler.List)
			r.Delete("/me/sessions/{session_id}", dep.SessionHandler.Revoke)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
