// internal/handler/controller_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

// ControllerHandler handles controller lifecycle requests
type ControllerHandler struct {
	controllerService *service.ControllerService
	logger            *utils.ServiceLogger
}

// NewControllerHandler creates a new controller handler
func NewControllerHandler(controllerService *service.ControllerService, logger *zap.Logger) *ControllerHandler {
	return &ControllerHandler{
		controllerService: controllerService,
		logger:            utils.NewServiceLogger(logger, "controller-handler"),
	}
}

// ListControllers lists configured controllers
// @Summary List controllers
// @Description List every configured controller with its status and devices
// @Tags Controllers
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.Controller} "Controllers retrieved successfully"
// @Router /controllers [get]
func (h *ControllerHandler) ListControllers(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Controllers retrieved successfully", h.controllerService.ListControllers())
}

// GetController returns one controller
// @Summary Get controller
// @Tags Controllers
// @Produce json
// @Param controller path string true "Controller name"
// @Success 200 {object} utils.APIResponse{data=model.Controller} "Controller retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Controller not found"
// @Router /controllers/{controller} [get]
func (h *ControllerHandler) GetController(c *gin.Context) {
	controller, err := h.controllerService.GetController(c.Param("controller"))
	if err != nil {
		respondError(c, h.logger, "Controller not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Controller retrieved successfully", controller)
}

// ConnectController opens and identifies a controller
// @Summary Connect controller
// @Description Open the controller's port and run the identification handshake, retrying transient failures
// @Tags Controllers
// @Produce json
// @Param controller path string true "Controller name"
// @Success 200 {object} utils.APIResponse{data=model.Controller} "Controller connected"
// @Failure 404 {object} utils.APIResponse "Controller not found"
// @Failure 409 {object} utils.APIResponse "Connect already in progress"
// @Failure 502 {object} utils.APIResponse "Controller did not identify"
// @Router /controllers/{controller}/connect [post]
func (h *ControllerHandler) ConnectController(c *gin.Context) {
	name := c.Param("controller")
	if err := h.controllerService.Connect(c, name); err != nil {
		respondError(c, h.logger, "Failed to connect controller", err)
		return
	}

	controller, err := h.controllerService.GetController(name)
	if err != nil {
		respondError(c, h.logger, "Controller not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Controller connected", controller)
}

// DisconnectController shuts the controller's devices down
// @Summary Disconnect controller
// @Tags Controllers
// @Produce json
// @Param controller path string true "Controller name"
// @Success 200 {object} utils.APIResponse "Controller disconnected"
// @Failure 404 {object} utils.APIResponse "Controller not found"
// @Router /controllers/{controller}/disconnect [post]
func (h *ControllerHandler) DisconnectController(c *gin.Context) {
	if err := h.controllerService.Disconnect(c, c.Param("controller")); err != nil {
		respondError(c, h.logger, "Failed to disconnect controller", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Controller disconnected", nil)
}

// GetTransportStats returns traffic counters of a connected controller
// @Summary Controller transport statistics
// @Tags Controllers
// @Produce json
// @Param controller path string true "Controller name"
// @Success 200 {object} utils.APIResponse{data=protocol.TransportStats} "Statistics retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Controller not found"
// @Failure 409 {object} utils.APIResponse "Controller offline"
// @Router /controllers/{controller}/stats [get]
func (h *ControllerHandler) GetTransportStats(c *gin.Context) {
	stats, err := h.controllerService.TransportStats(c.Param("controller"))
	if err != nil {
		respondError(c, h.logger, "Failed to get transport statistics", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved successfully", stats)
}
