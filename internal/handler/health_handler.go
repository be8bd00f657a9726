package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck is one named dependency check.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// QueueDepth reports how many items wait in a worker queue.
type QueueDepth func(ctx context.Context) (int64, error)

// HealthHandler reports dependency status, uptime and the audit queue backlog.
type HealthHandler struct {
	checks     []HealthCheck
	auditQueue QueueDepth
	startTime  time.Time
	log        zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checks []HealthCheck, auditQueue QueueDepth, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:     checks,
		auditQueue: auditQueue,
		startTime:  time.Now(),
		log:        log.With().Str("component", "health_handler").Logger(),
	}
}

// Health godoc
// GET /health
// 200 when every dependency answers, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("check", chk.Name).Msg("Health check failed")
			checks[chk.Name] = "down"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[chk.Name] = "up"
	}

	body := gin.H{
		"status":     status,
		"checks":     checks,
		"uptime":     time.Since(h.startTime).Truncate(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}
	if h.auditQueue != nil {
		if n, err := h.auditQueue(ctx); err == nil {
			body["audit_queue"] = n
		}
	}

	response.Success(c, code, body)
}
