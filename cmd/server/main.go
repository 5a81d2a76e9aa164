package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"courseview-backend/internal/cache"
	"courseview-backend/internal/config"
	"courseview-backend/internal/database"
	"courseview-backend/internal/fraud"
	"courseview-backend/internal/handlers"
	"courseview-backend/internal/logging"
	"courseview-backend/internal/middleware"
	"courseview-backend/internal/repository"
	"courseview-backend/internal/router"
	"courseview-backend/internal/services"
	"courseview-backend/internal/websocket"
	"courseview-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logFormat := cfg.LogFormat
	if !cfg.IsProduction() && os.Getenv("LOG_FORMAT") == "" {
		logFormat = "console"
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: logFormat})
	logging.Info().Str("env", cfg.Env).Msg("starting courseview backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	logging.Info().Msg("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()
	logging.Info().Msg("redis connected")

	// ──── Step 4: Run Database Migrations ────
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = database.RunMigrations(migrateCtx, pool, os.DirFS("migrations"))
	cancelMigrate()
	if err != nil {
		logging.Fatal().Err(err).Msg("database migration failed")
	}

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)
	eventRepo := repository.NewEventRepo(pool)
	progressRepo := repository.NewProgressRepo(pool)
	lessonRepo := repository.NewLessonRepo(pool)
	alertRepo := repository.NewAlertRepo(pool)

	// ──── Initialize Services ────
	integrityCfg := cfg.Integrity()
	trackingCache := cache.New(nil)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	alertService := services.NewAlertService(alertRepo, redisClients.Queue, trackingCache)
	fraudService := fraud.NewService(integrityCfg.Fraud, sessionRepo, progressRepo, alertService)
	trackingService := services.NewTrackingService(
		sessionRepo,
		eventRepo,
		progressRepo,
		lessonRepo,
		fraudService,
		trackingCache,
		integrityCfg,
		services.SessionLimits{
			HeartbeatTimeout: cfg.SessionHeartbeatTimeout,
			MaxAge:           cfg.SessionMaxAge,
		},
	)

	eventLimiter := middleware.NewRateLimiter(rate.Limit(cfg.EventsRatePerSec), cfg.EventsRateBurst)
	defer eventLimiter.Stop()
	ipLimiter := middleware.NewRateLimiter(rate.Limit(cfg.IPRatePerSec), cfg.IPRateBurst)
	defer ipLimiter.Stop()

	// ──── Initialize Handlers ────
	trackingHandler := handlers.NewTrackingHandler(trackingService, eventLimiter)
	adminHandler := handlers.NewAdminHandler(alertService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pool,
		"redis":    redisClients,
	})

	// ──── Step 5: Start Background Workers ────
	workerPool := worker.NewPool(redisClients.Queue, emailService, cfg.AdminAlertEmails, cfg.AlertWorkers)
	workerPool.Start()

	reaper := services.NewSessionReaper(trackingService, cfg.SessionCleanupInterval)
	reaper.Start()

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		trackingHandler,
		adminHandler,
		healthHandler,
		wsHub.HandleWebSocket,
		ipLimiter,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logging.Info().Msg("shutting down")
		workerPool.Stop()
		reaper.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("http shutdown")
		}
	}()

	logging.Info().
		Str("addr", server.Addr).
		Str("api", "/api/v1").
		Str("ws", "/api/v1/admin/ws").
		Msg("courseview backend ready")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal().Err(err).Msg("server error")
	}
}
