// internal/handler/operation_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

// OperationHandler serves the operation journal
type OperationHandler struct {
	operationService *service.OperationService
	logger           *utils.ServiceLogger
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(operationService *service.OperationService, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		operationService: operationService,
		logger:           utils.NewServiceLogger(logger, "operation-handler"),
	}
}

// GetOperation retrieves operation by ID
// @Summary Get operation details
// @Description Get a journaled operation and its outcome
// @Tags Operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 200 {object} utils.APIResponse{data=model.DeviceOperation} "Operation retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Invalid operation ID"
// @Failure 404 {object} utils.APIResponse "Operation not found"
// @Router /operations/{id} [get]
func (h *OperationHandler) GetOperation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid operation ID", err)
		return
	}

	operation, err := h.operationService.GetOperation(c, id)
	if err != nil {
		respondError(c, h.logger, "Operation not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operation retrieved successfully", operation)
}

// ListOperations lists operations with filtering
// @Summary List operations
// @Description List journaled operations, newest first
// @Tags Operations
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(50)
// @Param controller query string false "Filter by controller"
// @Param device query string false "Filter by device label"
// @Param operation_type query string false "Filter by operation type" Enums(CONNECT, DISCONNECT, MOVE_BY, MOVE_TO, ENABLE_STAGE, SET_FILTER, DISCOVERY_PROBE)
// @Param status query string false "Filter by status" Enums(PENDING, SUCCESS, FAILED)
// @Success 200 {object} utils.APIResponse{data=object{operations=[]model.DeviceOperation,pagination=service.PaginationResult}} "Operations retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Invalid query"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /operations [get]
func (h *OperationHandler) ListOperations(c *gin.Context) {
	var filter service.OperationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	operations, pagination, err := h.operationService.ListOperations(c, &filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list operations", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", gin.H{
		"operations": operations,
		"pagination": pagination,
	})
}
