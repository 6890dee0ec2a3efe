package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karaca/identity/pkg/health"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/services/email/internal/service"
)

// RouterConfig carries the wiring the router needs beyond the services.
type RouterConfig struct {
	Development    bool
	AllowedOrigins []string
}

// NewRouter creates a chi router with all email service routes registered.
func NewRouter(
	email *service.EmailService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	env := "production"
	if cfg.Development {
		env = "development"
	}

	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Environment:    env,
	}))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("email"))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	emailHandler := NewEmailHandler(email, logger)

	r.Route("/email", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/send-verification", emailHandler.SendVerification)
		r.Post("/verify-email", emailHandler.VerifyEmail)
		r.Post("/resend-verification", emailHandler.ResendVerification)
		r.Post("/forgot-password", emailHandler.ForgotPassword)
		r.Post("/reset-password", emailHandler.ResetPassword)
		r.Post("/send-magic-link", emailHandler.SendMagicLink)
	})

	return r
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
