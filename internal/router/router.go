package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/handler"
	"github.com/stemsi/cbt-exam/internal/middleware"
	"github.com/stemsi/cbt-exam/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam   *handler.ExamHandler
	Health *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// A nil limiter leaves mutating routes unthrottled.
func SetupRouter(
	auth middleware.Authenticator,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	// Only listed proxies may set the client IP through X-Forwarded-For; with none, the
	// rate limiter keys on the TCP peer.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error().Err(err).Strs("trusted_proxies", cfg.TrustedProxies).Msg("Invalid trusted proxies, trusting none")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log and every envelope carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── Exam Group ────────────────────────────────────────────────────
	exam := router.Group("/api/v1/exam")
	{
		exam.GET("/list/", handlers.Exam.ListExams)
		exam.GET("/read/:id/", handlers.Exam.ReadExam)
	}

	// Mutating routes: rate limited, then token authenticated.
	mutating := exam.Group("")
	if limiter != nil {
		mutating.Use(limiter.Middleware())
	}
	mutating.Use(middleware.RequireToken(auth))
	{
		mutating.POST("/create/", middleware.RequireCBTProfile(), handlers.Exam.CreateExam)
		mutating.PUT("/update/:id/", handlers.Exam.UpdateExam)
		mutating.DELETE("/delete/:id/", handlers.Exam.DeleteExam)
	}

	return router
}
