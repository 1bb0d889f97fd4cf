package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check is one named readiness dependency, e.g. the database pool.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: time.Second}
}

// Healthz is liveness only: the process is up and serving.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz pings every dependency and reports 503 if any is down.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}

	for _, c := range h.checks {
		if err := c.Ping(cctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = "down"
			continue
		}
		results[c.Name] = "up"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	ctx.JSON(status, gin.H{"status": state, "checks": results})
}

func Root(ctx *gin.Context) {
	ctx.String(http.StatusOK, "AI Progress Report API")
}

func NoRoute(ctx *gin.Context) {
	RespondNotFound(ctx, "Route not found")
}
