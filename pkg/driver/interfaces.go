// pkg/driver/interfaces.go
package driver

// Device is the lifecycle surface shared by every controlled device
type Device interface {
	// Lifecycle
	Initialize() error
	Shutdown() error

	// Kind reports what sort of device this is
	Kind() DeviceKind
}

// StageAxis is a single linear axis of a stage. Positions are in the
// device's native position units.
type StageAxis interface {
	MoveBy(delta float64) error
	MoveTo(pos float64) error
	Position() (float64, error)

	// Limits fails with ErrNotReady until the axis has been calibrated
	Limits() (AxisLimits, error)
}

// Stage extends Device for multi-axis stages
type Stage interface {
	Device

	// Axes returns the stage axes keyed by lowercase axis name
	Axes() map[string]StageAxis

	// Movement, keyed by axis name
	MoveBy(delta map[string]float64) error
	MoveTo(position map[string]float64) error

	Position() (map[string]float64, error)
	Limits() (map[string]AxisLimits, error)

	// Enable calibrates the stage. It physically moves the stage.
	Enable() error
}

// FilterWheel extends Device for filter wheels
type FilterWheel interface {
	Device

	// Positions is the number of filter positions on the wheel
	Positions() int
	Position() (int, error)
	SetPosition(position int) error
}

// Controller is a device that owns other devices sharing one connection
type Controller interface {
	// Devices maps device label to device
	Devices() map[string]Device

	Shutdown() error
}
