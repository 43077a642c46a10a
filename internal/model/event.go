// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventControllerConnected    EventType = "CONTROLLER_CONNECTED"
	EventControllerDisconnected EventType = "CONTROLLER_DISCONNECTED"
	EventControllerError        EventType = "CONTROLLER_ERROR"
	EventOperationStarted       EventType = "OPERATION_STARTED"
	EventOperationCompleted     EventType = "OPERATION_COMPLETED"
	EventOperationFailed        EventType = "OPERATION_FAILED"
	EventDiscoveryCompleted     EventType = "DISCOVERY_COMPLETED"
)

// DeviceEvent represents an event in the system
type DeviceEvent struct {
	ID         uuid.UUID  `json:"id"`
	EventType  EventType  `json:"event_type"`
	Controller string     `json:"controller,omitempty"`
	Device     string     `json:"device,omitempty"`
	Data       JSONObject `json:"data"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     string     `json:"source"`
	Severity   string     `json:"severity"` // INFO, WARNING, ERROR
}

// NewDeviceEvent creates an event stamped with a fresh id and the current time
func NewDeviceEvent(eventType EventType, controller, device string, data JSONObject) *DeviceEvent {
	severity := "INFO"
	switch eventType {
	case EventOperationFailed, EventControllerError:
		severity = "ERROR"
	case EventControllerDisconnected:
		severity = "WARNING"
	}

	return &DeviceEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Controller: controller,
		Device:     device,
		Data:       data,
		Timestamp:  time.Now(),
		Source:     "labdevice-service",
		Severity:   severity,
	}
}

// OperationEventData represents operation-related events
type OperationEventData struct {
	OperationID   uuid.UUID       `json:"operation_id"`
	OperationType OperationType   `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	Duration      *int            `json:"duration_ms,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}

// ControllerEventData represents controller lifecycle events
type ControllerEventData struct {
	Name           string          `json:"name"`
	ConnectionType ConnectionType  `json:"connection_type"`
	Address        string          `json:"address"`
	Devices        []DeviceSummary `json:"devices,omitempty"`
	Error          *string         `json:"error,omitempty"`
}
