// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"labdevice-service/internal/model"
)

// ErrNotFound is returned when no operation has the requested id
var ErrNotFound = errors.New("operation not found")

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// OperationRepository is the operation journal
type OperationRepository interface {
	Create(ctx context.Context, operation *model.DeviceOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DeviceOperation, error)
	Update(ctx context.Context, operation *model.DeviceOperation) error

	// List returns one page, newest first, and the total match count
	List(ctx context.Context, filter *OperationFilter) ([]*model.DeviceOperation, int, error)

	DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error)
}

// OperationFilter represents operation listing filters
type OperationFilter struct {
	Controller    *string                `json:"controller,omitempty"`
	Device        *string                `json:"device,omitempty"`
	OperationType *model.OperationType   `json:"operation_type,omitempty"`
	Status        *model.OperationStatus `json:"status,omitempty"`
	Page          int                    `json:"page"`
	PerPage       int                    `json:"per_page"`
}

// normalize clamps paging to sane values
func (f *OperationFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
}

func (f *OperationFilter) matches(op *model.DeviceOperation) bool {
	if f.Controller != nil && op.Controller != *f.Controller {
		return false
	}
	if f.Device != nil && op.Device != *f.Device {
		return false
	}
	if f.OperationType != nil && op.OperationType != *f.OperationType {
		return false
	}
	if f.Status != nil && op.Status != *f.Status {
		return false
	}
	return true
}
