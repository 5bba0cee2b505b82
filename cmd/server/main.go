package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/velorapos/backend/internal/audit"
	"github.com/velorapos/backend/internal/auth"
	"github.com/velorapos/backend/internal/config"
	"github.com/velorapos/backend/internal/health"
	"github.com/velorapos/backend/internal/logger"
	"github.com/velorapos/backend/internal/metrics"
	authmw "github.com/velorapos/backend/internal/middleware"
	"github.com/velorapos/backend/internal/repository"
	"github.com/velorapos/backend/internal/sanitizer"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg := config.Load()

	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	appLogger := logger.New(logger.DefaultConfig())

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Separate sqlx handle for the audit repository.
	sqlxDB, err := sqlx.Open("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open audit database handle: %v", err)
	}
	defer sqlxDB.Close()

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	sessionRepo := repository.NewSessionRepository(dbPool)
	tokenRepo := repository.NewTokenRepository(dbPool)
	auditRepo := repository.NewAuditRepo(sqlxDB)

	// Services
	auditor := audit.NewService(auditRepo, appLogger)

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.TokenExpiry,
		Issuer:      cfg.JWT.Issuer,
	})

	passwordValidator := auth.NewPasswordValidator(cfg.Auth.BcryptCost)
	inputSanitizer := sanitizer.New()

	authService := auth.NewAuthService(auth.AuthServiceConfig{
		UserRepo:          userRepo,
		SessionRepo:       sessionRepo,
		TokenService:      tokenService,
		PasswordValidator: passwordValidator,
		Auditor:           auditor,
		Sanitizer:         inputSanitizer,
		MaxLoginAttempts:  cfg.Auth.MaxLoginAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
		Logger:            appLogger,
	})

	resetService := auth.NewResetService(
		userRepo, sessionRepo, tokenRepo, passwordValidator,
		auditor, cfg.Auth.ResetTokenExpiry, appLogger,
	)

	verificationService := auth.NewVerificationService(
		userRepo, tokenRepo, auditor, cfg.Auth.VerifyTokenExpiry, appLogger,
	)

	// Handlers and middleware
	authHandler := auth.NewAuthHandler(authService, resetService, verificationService, cfg.Auth.SecureCookies)
	auditHandler := audit.NewHandler(auditRepo)
	authMiddleware := authmw.NewAuthMiddleware(tokenService, sessionRepo)
	loggingMiddleware := authmw.NewLoggingMiddleware(appLogger)
	credentialLimiter := authmw.NewRateLimiter(30, time.Minute)
	healthHandler := health.NewHandler(dbPool, Version)

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(loggingMiddleware.Handler)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.velorapos.com", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(credentialLimiter.Handler)
			auth.RegisterRoutes(r, authHandler, authMiddleware.Authenticate, authMiddleware.RequireRole)
		})

		// Audit log view, admin only
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(authMiddleware.RequireRole(repository.RoleAdmin))
			auditHandler.RegisterRoutes(r)
		})
	})

	// Background tasks
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go metrics.CollectPoolStats(bgCtx, dbPool, 15*time.Second)

	if archiver := audit.NewArchiver(&cfg.Archive, auditRepo, sessionRepo, appLogger); archiver != nil {
		go archiver.Run(bgCtx)
		appLogger.Info("archiver enabled", "bucket", cfg.Archive.Bucket, "retention", cfg.Archive.Retention)
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("starting server", "addr", addr, "version", Version)
		healthHandler.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
