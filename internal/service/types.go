// internal/service/types.go
package service

import (
	"errors"

	"labdevice-service/internal/model"
	"labdevice-service/internal/repository"
)

var (
	ErrControllerNotFound = errors.New("controller not found")
	ErrDeviceNotFound     = errors.New("device not found")

	// ErrControllerOffline is returned for device calls on a controller
	// that is configured but not connected
	ErrControllerOffline = errors.New("controller offline")

	// ErrUnsupportedOperation is returned when the device kind does not
	// support the requested operation
	ErrUnsupportedOperation = errors.New("operation not supported by device")

	ErrConnectInProgress = errors.New("controller connect in progress")
	ErrScanInProgress    = errors.New("discovery scan in progress")
)

// EventPublisher receives service events
type EventPublisher interface {
	Publish(event *model.DeviceEvent)
}

type discardPublisher struct{}

func (discardPublisher) Publish(*model.DeviceEvent) {}

// MoveRequest moves a stage. Axes are keyed by lowercase axis name and
// given in microsteps.
type MoveRequest struct {
	Axes map[string]float64 `json:"axes" binding:"required"`
}

// FilterRequest selects a filter wheel position
type FilterRequest struct {
	Position int `json:"position" binding:"required,min=1"`
}

// ScanRequest represents discovery scan request
type ScanRequest struct {
	ScanType string `json:"scan_type"`
}

// OperationFilter represents operation listing filters
type OperationFilter struct {
	Controller    string `form:"controller"`
	Device        string `form:"device"`
	OperationType string `form:"operation_type"`
	Status        string `form:"status"`
	Page          int    `form:"page"`
	PerPage       int    `form:"per_page"`
}

func (f *OperationFilter) toRepoFilter() *repository.OperationFilter {
	filter := &repository.OperationFilter{
		Page:    f.Page,
		PerPage: f.PerPage,
	}
	if f.Controller != "" {
		filter.Controller = &f.Controller
	}
	if f.Device != "" {
		filter.Device = &f.Device
	}
	if f.OperationType != "" {
		opType := model.OperationType(f.OperationType)
		filter.OperationType = &opType
	}
	if f.Status != "" {
		status := model.OperationStatus(f.Status)
		filter.Status = &status
	}
	return filter
}

// PaginationResult represents pagination information
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}
