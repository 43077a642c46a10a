// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labdevice-service/internal/model"
)

// memoryOperationRepository keeps the journal in process memory. It is used
// when no database is configured.
type memoryOperationRepository struct {
	mu         sync.RWMutex
	operations map[uuid.UUID]*model.DeviceOperation
	logger     *zap.Logger
}

// NewMemoryOperationRepository creates an in-memory operation repository
func NewMemoryOperationRepository(logger *zap.Logger) OperationRepository {
	return &memoryOperationRepository{
		operations: make(map[uuid.UUID]*model.DeviceOperation),
		logger:     logger,
	}
}

func (r *memoryOperationRepository) Create(ctx context.Context, operation *model.DeviceOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[operation.ID]; exists {
		return fmt.Errorf("failed to create operation: duplicate id %s", operation.ID)
	}
	stored := *operation
	r.operations[operation.ID] = &stored
	return nil
}

func (r *memoryOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DeviceOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	operation, ok := r.operations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *operation
	return &copied, nil
}

func (r *memoryOperationRepository) Update(ctx context.Context, operation *model.DeviceOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.operations[operation.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, operation.ID)
	}
	stored.Status = operation.Status
	stored.CompletedAt = operation.CompletedAt
	stored.DurationMs = operation.DurationMs
	stored.ErrorMessage = operation.ErrorMessage
	stored.Result = operation.Result
	return nil
}

func (r *memoryOperationRepository) List(ctx context.Context, filter *OperationFilter) ([]*model.DeviceOperation, int, error) {
	filter.normalize()

	r.mu.RLock()
	matched := []*model.DeviceOperation{}
	for _, operation := range r.operations {
		if filter.matches(operation) {
			copied := *operation
			matched = append(matched, &copied)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*model.DeviceOperation{}, total, nil
	}
	end := min(start+filter.PerPage, total)
	return matched[start:end], total, nil
}

func (r *memoryOperationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, operation := range r.operations {
		if operation.CreatedAt.Before(olderThan) {
			delete(r.operations, id)
			deleted++
		}
	}

	if deleted > 0 {
		r.logger.Info("Deleted old operations",
			zap.Int64("rows_deleted", deleted),
			zap.Time("older_than", olderThan),
		)
	}
	return deleted, nil
}
