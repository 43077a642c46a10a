// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of operation
type OperationType string

const (
	OperationTypeMoveBy         OperationType = "MOVE_BY"
	OperationTypeMoveTo         OperationType = "MOVE_TO"
	OperationTypeEnableStage    OperationType = "ENABLE_STAGE"
	OperationTypeSetFilter      OperationType = "SET_FILTER_POSITION"
	OperationTypeConnect        OperationType = "CONNECT"
	OperationTypeDisconnect     OperationType = "DISCONNECT"
	OperationTypeDiscoveryProbe OperationType = "DISCOVERY_PROBE"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusSuccess    OperationStatus = "SUCCESS"
	OperationStatusFailed     OperationStatus = "FAILED"
)

// DeviceOperation is one journaled command issued against a device
type DeviceOperation struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Controller    string          `json:"controller" db:"controller"`
	Device        string          `json:"device" db:"device"`
	OperationType OperationType   `json:"operation_type" db:"operation_type"`
	OperationData JSONObject      `json:"operation_data" db:"operation_data"`
	Status        OperationStatus `json:"status" db:"status"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at" db:"completed_at"`
	DurationMs    *int            `json:"duration_ms" db:"duration_ms"`
	ErrorMessage  *string         `json:"error_message" db:"error_message"`
	CorrelationID *uuid.UUID      `json:"correlation_id" db:"correlation_id"`
	Result        JSONObject      `json:"result" db:"result"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewDeviceOperation starts a journal entry in PROCESSING state
func NewDeviceOperation(controller, device string, opType OperationType, data JSONObject) *DeviceOperation {
	now := time.Now()
	return &DeviceOperation{
		ID:            uuid.New(),
		Controller:    controller,
		Device:        device,
		OperationType: opType,
		OperationData: data,
		Status:        OperationStatusProcessing,
		StartedAt:     now,
		CreatedAt:     now,
	}
}

// Complete records the outcome of the operation
func (op *DeviceOperation) Complete(result JSONObject, err error) {
	now := time.Now()
	duration := int(now.Sub(op.StartedAt).Milliseconds())
	op.CompletedAt = &now
	op.DurationMs = &duration

	if err != nil {
		msg := err.Error()
		op.Status = OperationStatusFailed
		op.ErrorMessage = &msg
		return
	}
	op.Status = OperationStatusSuccess
	op.Result = result
}

// IsCompleted checks if operation is completed (success or failed)
func (op *DeviceOperation) IsCompleted() bool {
	return op.Status == OperationStatusSuccess || op.Status == OperationStatusFailed
}
