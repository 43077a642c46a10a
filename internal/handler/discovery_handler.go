// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

// DiscoveryHandler handles controller discovery requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// ScanControllers scans for controllers
// @Summary Scan for controllers
// @Description Enumerate serial ports and probe each for the controller handshake. Ports owned by connected controllers are reported in use and not probed.
// @Tags Discovery
// @Accept json
// @Produce json
// @Param request body service.ScanRequest false "Scan request"
// @Success 200 {object} utils.APIResponse{data=object{controllers_found=int,controllers=[]model.DiscoveredController}} "Controller scan completed"
// @Failure 400 {object} utils.APIResponse "Unknown scanner type"
// @Failure 409 {object} utils.APIResponse "Scan already in progress"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /discovery/scan [post]
func (h *DiscoveryHandler) ScanControllers(c *gin.Context) {
	var req service.ScanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.ScanType == "" {
		req.ScanType = c.DefaultQuery("type", "all")
	}

	found, err := h.discoveryService.ScanControllers(c, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to scan controllers", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Controller scan completed", gin.H{
		"controllers_found": len(found),
		"controllers":       found,
	})
}

// GetLastResults returns the results of the most recent scan
// @Summary Last scan results
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{controllers=[]model.DiscoveredController,scanners=[]string}} "Scan results retrieved successfully"
// @Router /discovery/results [get]
func (h *DiscoveryHandler) GetLastResults(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scan results retrieved successfully", gin.H{
		"controllers": h.discoveryService.LastResults(),
		"scanners":    h.discoveryService.AvailableScanners(),
	})
}
