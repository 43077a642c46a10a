// internal/handler/device_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/model"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

// DeviceHandler handles requests to the devices behind a controller
type DeviceHandler struct {
	controllerService *service.ControllerService
	logger            *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(controllerService *service.ControllerService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		controllerService: controllerService,
		logger:            utils.NewServiceLogger(logger, "device-handler"),
	}
}

// FilterPosition is the state of a filter wheel
type FilterPosition struct {
	Position  int `json:"position"`
	Positions int `json:"positions"`
}

// GetDevice reads the current state of a device
// @Summary Get device state
// @Description Read position, limits and readiness of a stage or the position of a filter wheel
// @Tags Devices
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Success 200 {object} utils.APIResponse{data=model.DeviceState} "Device state retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Failure 409 {object} utils.APIResponse "Controller offline"
// @Failure 502 {object} utils.APIResponse "Controller protocol error"
// @Router /controllers/{controller}/devices/{device} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	state, err := h.controllerService.DeviceInfo(c, c.Param("controller"), c.Param("device"))
	if err != nil {
		respondError(c, h.logger, "Failed to read device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device state retrieved successfully", state)
}

// MoveBy moves a stage relative to its current position
// @Summary Relative stage move
// @Tags Devices
// @Accept json
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Param request body service.MoveRequest true "Axis deltas in microsteps"
// @Success 200 {object} utils.APIResponse{data=model.DeviceOperation} "Stage moved"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Failure 502 {object} utils.APIResponse "Controller protocol error"
// @Router /controllers/{controller}/devices/{device}/move-by [post]
func (h *DeviceHandler) MoveBy(c *gin.Context) {
	h.move(c, false)
}

// MoveTo moves a stage to an absolute position
// @Summary Absolute stage move
// @Tags Devices
// @Accept json
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Param request body service.MoveRequest true "Axis targets in microsteps"
// @Success 200 {object} utils.APIResponse{data=model.DeviceOperation} "Stage moved"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Failure 502 {object} utils.APIResponse "Controller protocol error"
// @Router /controllers/{controller}/devices/{device}/move-to [post]
func (h *DeviceHandler) MoveTo(c *gin.Context) {
	h.move(c, true)
}

func (h *DeviceHandler) move(c *gin.Context, absolute bool) {
	var req service.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	operation, err := h.controllerService.MoveStage(c, c.Param("controller"), c.Param("device"), &req, absolute)
	h.respondOperation(c, "Stage moved", operation, err)
}

// EnableStage calibrates a stage by finding its limits
// @Summary Enable stage
// @Description Drive the stage to its limit switches and record its travel. The stage moves.
// @Tags Devices
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Success 200 {object} utils.APIResponse{data=model.DeviceOperation} "Stage enabled"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Failure 502 {object} utils.APIResponse "Limit not reached or protocol error"
// @Router /controllers/{controller}/devices/{device}/enable [post]
func (h *DeviceHandler) EnableStage(c *gin.Context) {
	operation, err := h.controllerService.EnableStage(c, c.Param("controller"), c.Param("device"))
	h.respondOperation(c, "Stage enabled", operation, err)
}

// GetFilterPosition reads the current filter wheel position
// @Summary Get filter position
// @Tags Devices
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Success 200 {object} utils.APIResponse{data=FilterPosition} "Filter position retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Device is not a filter wheel"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Router /controllers/{controller}/devices/{device}/position [get]
func (h *DeviceHandler) GetFilterPosition(c *gin.Context) {
	position, positions, err := h.controllerService.GetFilter(c.Param("controller"), c.Param("device"))
	if err != nil {
		respondError(c, h.logger, "Failed to read filter position", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Filter position retrieved successfully", FilterPosition{
		Position:  position,
		Positions: positions,
	})
}

// SetFilterPosition moves a filter wheel
// @Summary Set filter position
// @Tags Devices
// @Accept json
// @Produce json
// @Param controller path string true "Controller name"
// @Param device path string true "Device label"
// @Param request body service.FilterRequest true "Target position, 1-based"
// @Success 200 {object} utils.APIResponse{data=model.DeviceOperation} "Filter position set"
// @Failure 400 {object} utils.APIResponse "Invalid position"
// @Failure 404 {object} utils.APIResponse "Controller or device not found"
// @Router /controllers/{controller}/devices/{device}/position [put]
func (h *DeviceHandler) SetFilterPosition(c *gin.Context) {
	var req service.FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	operation, err := h.controllerService.SetFilter(c, c.Param("controller"), c.Param("device"), req.Position)
	h.respondOperation(c, "Filter position set", operation, err)
}

// respondOperation reports a journaled operation. A failed operation is
// reported with the status of its error.
func (h *DeviceHandler) respondOperation(c *gin.Context, message string, operation *model.DeviceOperation, err error) {
	if err != nil {
		if operation != nil {
			h.logger.Warn("Device operation failed",
				zap.String("operation_id", operation.ID.String()),
				zap.String("operation_type", string(operation.OperationType)),
				zap.Error(err),
			)
		}
		respondError(c, h.logger, "Device operation failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, message, operation)
}
