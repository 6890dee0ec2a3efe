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
	pkgkafka "github.com/karaca/identity/pkg/kafka"
	"github.com/karaca/identity/services/auth/internal/client"
	"github.com/karaca/identity/services/auth/internal/config"
	"github.com/karaca/identity/services/auth/internal/event"
	handler "github.com/karaca/identity/services/auth/internal/handler/http"
	"github.com/karaca/identity/services/auth/internal/repository/postgres"
	"github.com/karaca/identity/services/auth/internal/service"
	"github.com/karaca/identity/services/auth/internal/sweeper"
	"github.com/karaca/identity/services/auth/internal/token"
	"github.com/karaca/identity/services/auth/migrations"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	producer   *pkgkafka.Producer
	sweeper    *sweeper.Sweeper
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize PostgreSQL connection pool.
	poolCfg := database.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns

	pool, err := database.NewPostgresPool(ctx, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	// Run database migrations. The auth service owns the shared schema.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	clk := clock.Real{}

	// Token codecs. Secrets are read once here and held immutable.
	codec := token.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, clk)
	oobSigner := token.NewOutOfBandSigner(cfg.EmailTokenSecret, clk)

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pool)
	oobTokenRepo := postgres.NewOutOfBandTokenRepository(pool)
	auditRepo := postgres.NewAuditLogRepository(pool)
	txManager := postgres.NewTxManager(pool)

	// Email service client behind a circuit breaker.
	emailHTTP := httpclient.New(httpclient.DefaultConfig())
	emailBreaker := httpclient.NewCircuitBreakerClient(emailHTTP, httpclient.DefaultCircuitBreakerConfig("email"), logger)
	emailClient := client.NewEmailClient(emailBreaker, cfg.EmailServiceURL, logger)

	// Event producer.
	eventProducer := event.NewProducer(producer, logger)

	// Services.
	auditRecorder := service.NewAuditRecorder(auditRepo, logger, clk, cfg.AuditRetention())
	registry := service.NewSessionRegistry(sessionRepo, refreshTokenRepo, auditRecorder, logger, clk)
	authService := service.NewAuthService(
		userRepo, refreshTokenRepo, sessionRepo, registry, auditRecorder,
		txManager, codec, emailClient, eventProducer, logger, clk,
	)
	magicLinkService := service.NewMagicLinkService(
		userRepo, oobTokenRepo, refreshTokenRepo, sessionRepo, registry, auditRecorder,
		txManager, codec, oobSigner, emailClient, eventProducer, logger, clk, cfg.ClientURL, cfg.MagicLinkTokenTTL,
	)
	gdprService := service.NewGdprService(
		userRepo, sessionRepo, refreshTokenRepo, oobTokenRepo, auditRepo, auditRecorder,
		txManager, emailClient, logger, clk,
	)

	// Background sweepers.
	sw := sweeper.New(refreshTokenRepo, sessionRepo, auditRecorder, logger, clk)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(
		authService, magicLinkService, registry, gdprService, auditRecorder,
		healthHandler, logger,
		handler.RouterConfig{
			RefreshCookieName:    cfg.RefreshCookieName,
			Development:          cfg.IsDevelopment(),
			AllowedOrigins:       cfg.AllowedOrigins,
			InternalAllowedCIDRs: cfg.InternalAllowedCIDRs,
			InternalSharedSecret: cfg.InternalSharedSecret,
		},
	)

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
		producer:   producer,
		sweeper:    sw,
		httpServer: httpServer,
	}, nil
}

// Run starts the HTTP server and the background sweepers, then blocks until
// the context is canceled.
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

// Shutdown gracefully stops all components in order: drain in-flight HTTP
// requests, close the Kafka producer, close the PostgreSQL pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
