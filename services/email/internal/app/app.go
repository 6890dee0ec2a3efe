package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karaca/identity/pkg/clock"
	"github.com/karaca/identity/pkg/database"
	"github.com/karaca/identity/pkg/health"
	"github.com/karaca/identity/pkg/httpclient"
	"github.com/karaca/identity/services/email/internal/client"
	"github.com/karaca/identity/services/email/internal/config"
	handler "github.com/karaca/identity/services/email/internal/handler/http"
	"github.com/karaca/identity/services/email/internal/repository/postgres"
	"github.com/karaca/identity/services/email/internal/sender"
	mocksender "github.com/karaca/identity/services/email/internal/sender/mock"
	smtpsender "github.com/karaca/identity/services/email/internal/sender/smtp"
	"github.com/karaca/identity/services/email/internal/service"
	"github.com/karaca/identity/services/email/internal/sweeper"
	"github.com/karaca/identity/services/email/internal/template"
	"github.com/karaca/identity/services/email/internal/token"
)

// App wires together all dependencies and runs the email service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	sweeper    *sweeper.Sweeper
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// The schema is owned and migrated by the auth service; this service only
// connects.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg := database.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns

	pool, err := database.NewPostgresPool(ctx, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	clk := clock.Real{}

	// Outbound mail transport. Startup verification logs the outcome but
	// never prevents the service from serving.
	var mailSender sender.Sender
	if cfg.UseMockSender() {
		mailSender = mocksender.New(logger)
		logger.Warn("no SMTP host configured, using mock sender")
	} else {
		mailSender = smtpsender.New(smtpsender.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			Secure:    cfg.EmailSecure,
		})
	}

	verifyCtx, verifyCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := mailSender.Verify(verifyCtx); err != nil {
		logger.Error("mail transport verification failed; sends will be retried per request",
			slog.String("sender", mailSender.Name()),
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("mail transport verified", slog.String("sender", mailSender.Name()))
	}
	verifyCancel()

	// Templates.
	renderer, err := template.NewRenderer()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("compile templates: %w", err)
	}

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)
	credentialRepo := postgres.NewCredentialRepository(pool)
	txManager := postgres.NewTxManager(pool)

	// Out-of-band token signer.
	signer := token.NewSigner(cfg.EmailTokenSecret, clk)

	// Fire-and-forget audit appends against the auth service.
	authHTTP := httpclient.New(httpclient.DefaultConfig())
	auditClient := client.NewAuditClient(authHTTP, cfg.AuthServiceURL, cfg.InternalSharedSecret, logger)

	// Services.
	emailService := service.NewEmailService(
		userRepo, tokenRepo, credentialRepo, txManager, signer,
		mailSender, renderer, auditClient, logger, clk, cfg.ClientURL,
		service.TTLConfig{
			Verification: cfg.VerificationTokenTTL,
			Reset:        cfg.ResetTokenTTL,
		},
	)

	// Background token sweeper.
	sw := sweeper.New(tokenRepo, logger, clk)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("smtp", func(ctx context.Context) error {
		return mailSender.Verify(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(emailService, healthHandler, logger, handler.RouterConfig{
		Development:    cfg.IsDevelopment(),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		sweeper:    sw,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and the token sweeper, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go a.sweeper.Run(sweepCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopSweeper()
		return err
	}

	stopSweeper()
	return a.Shutdown()
}

// Shutdown gracefully stops the HTTP server and closes the pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
