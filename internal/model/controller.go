// internal/model/controller.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"labdevice-service/pkg/devicetypes"
	devicedriver "labdevice-service/pkg/driver"
)

// ConnectionType represents how the controller is connected
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// ControllerStatus represents the current status of a controller
type ControllerStatus string

const (
	ControllerStatusOnline     ControllerStatus = "ONLINE"
	ControllerStatusOffline    ControllerStatus = "OFFLINE"
	ControllerStatusError      ControllerStatus = "ERROR"
	ControllerStatusConnecting ControllerStatus = "CONNECTING"
)

// ControllerBrand represents supported controller brands
type ControllerBrand string

const (
	BrandPrior   ControllerBrand = "PRIOR"
	BrandGeneric ControllerBrand = "GENERIC"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ToJSONObject converts a JSON-tagged struct into a JSONObject
func ToJSONObject(v interface{}) JSONObject {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var obj JSONObject
	if err := json.Unmarshal(bytes, &obj); err != nil {
		return nil
	}
	return obj
}

// DeviceSummary names one logical device behind a controller
type DeviceSummary struct {
	Label        string                   `json:"label"`
	Kind         devicedriver.DeviceKind  `json:"kind"`
	Capabilities []devicetypes.Capability `json:"capabilities"`
}

// SummarizeDevices lists devices sorted by label
func SummarizeDevices(devices map[string]devicedriver.Device) []DeviceSummary {
	summaries := make([]DeviceSummary, 0, len(devices))
	for label, device := range devices {
		summaries = append(summaries, DeviceSummary{
			Label:        label,
			Kind:         device.Kind(),
			Capabilities: devicetypes.CapabilitiesOf(device.Kind()),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Label < summaries[j].Label
	})
	return summaries
}

// Controller is the runtime view of a configured controller
type Controller struct {
	Name           string           `json:"name"`
	Brand          ControllerBrand  `json:"brand"`
	Model          string           `json:"model"`
	ConnectionType ConnectionType   `json:"connection_type"`
	Address        string           `json:"address"`
	Status         ControllerStatus `json:"status"`
	Devices        []DeviceSummary  `json:"devices"`
	ConnectedAt    *time.Time       `json:"connected_at,omitempty"`
	LastError      *string          `json:"last_error,omitempty"`
}

// IsOnline checks if the controller is currently online
func (c *Controller) IsOnline() bool {
	return c.Status == ControllerStatusOnline
}

// DeviceState is a snapshot of one logical device
type DeviceState struct {
	Controller string                  `json:"controller"`
	Label      string                  `json:"label"`
	Kind       devicedriver.DeviceKind `json:"kind"`

	// Stage
	Position        map[string]float64                 `json:"position,omitempty"`
	PositionMicrons map[string]decimal.Decimal         `json:"position_microns,omitempty"`
	Limits          map[string]devicedriver.AxisLimits `json:"limits,omitempty"`
	Ready           *bool                              `json:"ready,omitempty"`

	// Filter wheel
	FilterPosition  *int `json:"filter_position,omitempty"`
	FilterPositions *int `json:"filter_positions,omitempty"`

	ReadAt time.Time `json:"read_at"`
}

// DiscoveredController is a serial port that answered the identification
// handshake, or a candidate port when the probe was skipped
type DiscoveredController struct {
	Port         string          `json:"port"`
	IsUSB        bool            `json:"is_usb"`
	VendorID     string          `json:"vendor_id,omitempty"`
	ProductID    string          `json:"product_id,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	BaudRate     int             `json:"baud_rate,omitempty"`
	Identified   bool            `json:"identified"`
	InUse        bool            `json:"in_use,omitempty"`
	Brand        ControllerBrand `json:"brand,omitempty"`
	Model        string          `json:"model,omitempty"`
	Devices      []DeviceSummary `json:"devices,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}
