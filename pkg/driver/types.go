// pkg/driver/types.go
package driver

import (
	"errors"
	"fmt"
)

// DeviceKind identifies the device model implemented by a Device
type DeviceKind string

const (
	DeviceKindStage       DeviceKind = "STAGE"
	DeviceKindFilterWheel DeviceKind = "FILTER_WHEEL"
	DeviceKindController  DeviceKind = "CONTROLLER"
)

// AxisLimits is the (lower, upper) travel range of an axis
type AxisLimits struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether pos lies within the limits
func (l AxisLimits) Contains(pos float64) bool {
	return pos >= l.Lower && pos <= l.Upper
}

func (l AxisLimits) String() string {
	return fmt.Sprintf("[%g, %g]", l.Lower, l.Upper)
}

// Common errors returned by device implementations
var (
	// ErrInvalidAddress is returned when a device is constructed for an
	// axis or channel the hardware does not have.
	ErrInvalidAddress = errors.New("invalid device address")

	// ErrNotReady is returned when state that requires calibration is
	// read before calibration ran.
	ErrNotReady = errors.New("device not ready")

	ErrInvalidArgument = errors.New("invalid argument")
)
