package main

import (
	"context"
	"crypto"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/cache"
	"github.com/schedulo/access-control/internal/config"
	"github.com/schedulo/access-control/internal/database"
	"github.com/schedulo/access-control/internal/handlers"
	"github.com/schedulo/access-control/internal/middleware"
	"github.com/schedulo/access-control/internal/ratelimit"
	"github.com/schedulo/access-control/internal/repository"
	"github.com/schedulo/access-control/internal/security"
	"github.com/schedulo/access-control/internal/services"
	"github.com/schedulo/access-control/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting access control service")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.Seed(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed baseline data")
	}

	// Initialize the counter cache backing login rate limiting
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis counter cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache()
		log.Info().Msg("Memory counter cache initialized")
	}

	// Load or generate the token signing key
	var signingKey crypto.Signer
	if cfg.Auth.PrivateKeyFile != "" {
		signingKey, err = security.LoadPrivateKey(cfg.Auth.PrivateKeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load signing key")
		}
	} else {
		signingKey, err = security.GenerateEphemeralKey()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate signing key")
		}
		log.Warn().Msg("No AUTH_PRIVATE_KEY_FILE configured; using an ephemeral signing key")
	}

	tokens := security.NewTokenProvider(signingKey, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	hasher := security.NewHasher(cfg.Auth.BcryptCost)
	limiter := ratelimit.NewLoginLimiter(cacheImpl, cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginWindow)

	// Initialize repositories
	userRepo := repository.NewUserRepository()
	sessionRepo := repository.NewSessionRepository()
	subscriptionRepo := repository.NewSubscriptionRepository()
	auditRepo := repository.NewAuditRepository()

	// Initialize services
	authService := services.NewAuthService(userRepo, sessionRepo, auditRepo,
		tokens, hasher, limiter, cfg.Auth.RevokeAllOnReplay)
	admissionService := services.NewAdmissionService(subscriptionRepo, auditRepo)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(authService)
	admissionHandler := handlers.NewAdmissionHandler(admissionService)
	auditHandler := handlers.NewAuditHandler(auditRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Session lifecycle
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		// Everything below needs a valid access token
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticator(authService))

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
		})
	})

	// Admission and reporting API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticator(authService))

		r.Post("/admission/check", admissionHandler.Check)

		r.With(middleware.RequirePermission("entitlements.view")).
			Get("/entitlements", admissionHandler.Entitlements)
		r.With(middleware.RequirePermission("audit.view")).
			Get("/audit", auditHandler.List)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
