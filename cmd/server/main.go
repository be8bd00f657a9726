package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/database"
	"github.com/stemsi/cbt-exam/internal/handler"
	"github.com/stemsi/cbt-exam/internal/logger"
	"github.com/stemsi/cbt-exam/internal/middleware"
	"github.com/stemsi/cbt-exam/internal/repository"
	"github.com/stemsi/cbt-exam/internal/router"
	"github.com/stemsi/cbt-exam/internal/service"
	"github.com/stemsi/cbt-exam/internal/validator"
	"github.com/stemsi/cbt-exam/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting CBT exam service")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	auditLogRepo := repository.NewAuditLogRepository(pool)
	examCache := repository.NewExamCacheRepository(rdb, cfg.ExamCacheTTL)
	tokenCache := repository.NewTokenCacheRepository(rdb, cfg.TokenCacheTTL)
	auditQueue := repository.NewAuditQueueRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(userRepo, tokenCache, cfg.BcryptCost, log)
	examService := service.NewExamService(examRepo, examCache, auditQueue, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	healthChecks := []handler.HealthCheck{
		{Name: "postgres", Ping: pool.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	handlers := &router.Handlers{
		Exam:   handler.NewExamHandler(examService, log),
		Health: handler.NewHealthHandler(healthChecks, auditQueue.Len, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	auditWorker := worker.NewAuditWorker(auditQueue, auditLogRepo, log)
	go auditWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	var limiter *middleware.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute)
	}
	r := router.SetupRouter(authService, handlers, limiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the audit worker and wait for the queue to drain.
	workerCancel()
	select {
	case <-auditWorker.Done():
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Audit worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
