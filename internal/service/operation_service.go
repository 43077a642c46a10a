// internal/service/operation_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labdevice-service/internal/model"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/utils"
)

// OperationService journals device operations and answers journal queries
type OperationService struct {
	operationRepo repository.OperationRepository
	events        EventPublisher
	logger        *utils.ServiceLogger
}

// NewOperationService creates a new operation service instance
func NewOperationService(
	operationRepo repository.OperationRepository,
	events EventPublisher,
	logger *zap.Logger,
) *OperationService {
	if events == nil {
		events = discardPublisher{}
	}
	return &OperationService{
		operationRepo: operationRepo,
		events:        events,
		logger:        utils.NewServiceLogger(logger, "operation-service"),
	}
}

// Execute journals and runs one device operation. The returned operation
// carries the outcome; the error is the error of fn. Journal failures are
// logged and never fail the operation itself.
func (os *OperationService) Execute(
	ctx context.Context,
	controller, device string,
	opType model.OperationType,
	data model.JSONObject,
	fn func() (model.JSONObject, error),
) (*model.DeviceOperation, error) {
	operation := model.NewDeviceOperation(controller, device, opType, data)
	if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok {
		if id, err := uuid.Parse(requestID); err == nil {
			operation.CorrelationID = &id
		}
	}

	if err := os.operationRepo.Create(ctx, operation); err != nil {
		os.logger.Error("Failed to journal operation", zap.Error(err))
	}

	opLogger := utils.NewOperationLogger(os.logger.Logger, string(opType), operation.ID.String())
	opLogger.Start(zap.String("controller", controller), zap.String("device", device))
	os.publish(model.EventOperationStarted, operation)

	var (
		result model.JSONObject
		err    error
	)
	if err = ctx.Err(); err == nil {
		result, err = fn()
	}
	operation.Complete(result, err)

	// the caller's context may be gone by now; the outcome is still journaled
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if updateErr := os.operationRepo.Update(updateCtx, operation); updateErr != nil {
		os.logger.Error("Failed to journal operation outcome", zap.Error(updateErr))
	}

	if err != nil {
		opLogger.Error(err)
		os.publish(model.EventOperationFailed, operation)
		return operation, err
	}

	opLogger.Success(zap.Any("result", result))
	os.publish(model.EventOperationCompleted, operation)
	return operation, nil
}

func (os *OperationService) publish(eventType model.EventType, operation *model.DeviceOperation) {
	os.events.Publish(model.NewDeviceEvent(eventType, operation.Controller, operation.Device,
		model.ToJSONObject(model.OperationEventData{
			OperationID:   operation.ID,
			OperationType: operation.OperationType,
			Status:        operation.Status,
			Duration:      operation.DurationMs,
			ErrorMessage:  operation.ErrorMessage,
		}),
	))
}

// GetOperation retrieves operation details
func (os *OperationService) GetOperation(ctx context.Context, operationID uuid.UUID) (*model.DeviceOperation, error) {
	operation, err := os.operationRepo.GetByID(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return operation, nil
}

// ListOperations lists operations with filtering
func (os *OperationService) ListOperations(ctx context.Context, filter *OperationFilter) ([]*model.DeviceOperation, *PaginationResult, error) {
	repoFilter := filter.toRepoFilter()
	operations, total, err := os.operationRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list operations: %w", err)
	}

	pagination := &PaginationResult{
		Total:      total,
		Page:       repoFilter.Page,
		PerPage:    repoFilter.PerPage,
		TotalPages: (total + repoFilter.PerPage - 1) / repoFilter.PerPage,
	}

	return operations, pagination, nil
}

// Cleanup deletes journal entries older than retention
func (os *OperationService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	deleted, err := os.operationRepo.DeleteOldOperations(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup operations: %w", err)
	}
	return deleted, nil
}
