package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/database"
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/registry"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db       *database.Postgres
	redis    *database.Redis
	registry *registry.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.Postgres, redis *database.Redis, reg *registry.Registry) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, registry: reg}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "loom-api",
		"version": "0.1.0",
	})
}

// DeepHealth returns health status with dependency checks
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Pool().Ping(ctx); err != nil {
			deps["database"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps["database"] = "healthy"
		}
	} else {
		deps["database"] = "not configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps["redis"] = "healthy"
		}
	} else {
		deps["redis"] = "not configured"
	}

	// Providers degrade routing but a single healthy one keeps the
	// service serviceable.
	routable := 0
	for _, d := range h.registry.Snapshot() {
		if d.Health != models.HealthUnavailable {
			routable++
		}
	}
	if routable == 0 {
		deps["providers"] = "unhealthy: no routable provider"
		allHealthy = false
	} else {
		deps["providers"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      "loom-api",
		Version:      "0.1.0",
		Dependencies: deps,
	})
}
