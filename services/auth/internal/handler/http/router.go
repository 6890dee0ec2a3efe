package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karaca/identity/pkg/health"
	"github.com/karaca/identity/pkg/middleware"
	"github.com/karaca/identity/services/auth/internal/domain"
	"github.com/karaca/identity/services/auth/internal/service"
)

// RouterConfig carries the wiring the router needs beyond the services.
type RouterConfig struct {
	RefreshCookieName    string
	Development          bool
	AllowedOrigins       []string
	InternalAllowedCIDRs []string
	InternalSharedSecret string
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	auth *service.AuthService,
	magicLink *service.MagicLinkService,
	registry *service.SessionRegistry,
	gdpr *service.GdprService,
	audit *service.AuditRecorder,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	env := "production"
	if cfg.Development {
		env = "development"
	}

	// Global middleware
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		Environment:      env,
	}))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	cookies := newCookieWriter(cfg.RefreshCookieName, cfg.Development)

	authHandler := NewAuthHandler(auth, cookies, logger)
	magicLinkHandler := NewMagicLinkHandler(magicLink, cookies, logger)
	sessionHandler := NewSessionHandler(registry, cookies, logger)
	gdprHandler := NewGdprHandler(gdpr, logger)
	auditHandler := NewAuditHandler(audit, logger)
	adminHandler := NewAdminHandler(auth, gdpr, logger)

	// Bearer validator: signature plus current-token-version check.
	tokenValidator := func(ctx context.Context, bearer string) (*middleware.Claims, error) {
		claims, err := auth.VerifyAccess(ctx, bearer)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.UserID, Role: claims.Role}, nil
	}

	// Public credential endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.Post("/magic-link/request", magicLinkHandler.Request)
		r.Post("/magic-link/verify", magicLinkHandler.Verify)

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Get("/profile", authHandler.Profile)

			r.Get("/sessions", sessionHandler.List)
			r.Delete("/sessions/{id}", sessionHandler.Revoke)
			r.Post("/sessions/logout-other-devices", sessionHandler.LogoutOtherDevices)
			r.Post("/sessions/logout-all-devices", sessionHandler.LogoutAllDevices)

			r.Get("/audit/me", auditHandler.Me)

			r.Get("/gdpr/export", gdprHandler.Export)
			r.Post("/gdpr/anonymize", gdprHandler.Anonymize)
			r.Patch("/gdpr/update-email", gdprHandler.UpdateEmail)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))
			r.Use(middleware.RequireRole(domain.RoleAdmin))

			r.Get("/admin/users", adminHandler.ListUsers)
			r.Get("/admin/users/{id}", adminHandler.GetUser)
			r.Patch("/admin/users/{id}/role", adminHandler.ChangeRole)
			r.Delete("/admin/users/{id}", adminHandler.DeleteUser)
			r.Delete("/admin/users/{id}/permanent", adminHandler.PermanentDelete)
			r.Delete("/admin/users", adminHandler.DeleteAllNonAdmins)
			r.Post("/admin/users/delete-all", adminHandler.DeleteAllUsers)
			r.Get("/admin/audit", auditHandler.AdminQuery)
		})

		// Internal endpoints, reachable only from the private network.
		r.Group(func(r chi.Router) {
			r.Use(middleware.InternalOnly(middleware.InternalOnlyConfig{
				AllowedCIDRs: cfg.InternalAllowedCIDRs,
				SharedSecret: cfg.InternalSharedSecret,
			}))

			r.Post("/internal/audit-log", auditHandler.InternalAppend)
		})
	})

	return r
}
