// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/config"
	"labdevice-service/internal/model"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// DatabaseChecker is the part of database.DB used for health reporting
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
	GetStats() map[string]interface{}
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db          DatabaseChecker
	controllers *service.ControllerService
	config      *config.Config
	logger      *utils.ServiceLogger
	startedAt   time.Time
}

// NewHealthHandler creates a new health handler. db is nil when the
// journal is kept in memory.
func NewHealthHandler(db DatabaseChecker, controllers *service.ControllerService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		controllers: controllers,
		config:      config,
		logger:      utils.NewServiceLogger(logger, "health-handler"),
		startedAt:   time.Now(),
	}
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Overall service health including database connectivity and controller status. Offline controllers degrade the service; a failing database makes it unhealthy.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy or degraded"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.db != nil {
		if err := h.db.HealthCheck(c); err != nil {
			h.logger.Error("Database health check failed", zap.Error(err))
			health.Status = statusUnhealthy
			health.Checks["database"] = CheckResult{
				Status:  statusUnhealthy,
				Message: err.Error(),
			}
		} else {
			health.Checks["database"] = CheckResult{
				Status:  statusHealthy,
				Message: "Database connection OK",
				Data:    h.db.GetStats(),
			}
		}
	} else {
		health.Checks["database"] = CheckResult{
			Status:  statusHealthy,
			Message: "Journal kept in memory",
		}
	}

	for _, controller := range h.controllers.ListControllers() {
		result := CheckResult{
			Status: statusHealthy,
			Data: map[string]interface{}{
				"status":  controller.Status,
				"address": controller.Address,
				"devices": len(controller.Devices),
			},
		}
		if controller.Status != model.ControllerStatusOnline {
			result.Status = statusDegraded
			if controller.LastError != nil {
				result.Message = *controller.LastError
			}
			if health.Status == statusHealthy {
				health.Status = statusDegraded
			}
		}
		health.Checks["controller:"+controller.Name] = result
	}

	statusCode := http.StatusOK
	if health.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
